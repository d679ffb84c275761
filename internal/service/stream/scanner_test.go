package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanTopLevel(t *testing.T) {
	tests := []struct {
		name string
		buf  string
		want map[string]field
	}{
		{
			name: "empty",
			buf:  "",
			want: map[string]field{},
		},
		{
			name: "not an object",
			buf:  `["chatResponse", "x"]`,
			want: map[string]field{},
		},
		{
			name: "key still streaming",
			buf:  `{"chatRes`,
			want: map[string]field{},
		},
		{
			name: "string cut mid escape",
			buf:  `{"chatResponse": "abc\`,
			want: map[string]field{
				"chatResponse": {kind: kindString, raw: "abc"},
			},
		},
		{
			name: "complete string then partial number",
			buf:  `{"chatResponse": "a\"b", "numImages": 1`,
			want: map[string]field{
				"chatResponse": {kind: kindString, raw: `a\"b`, complete: true},
				"numImages":    {kind: kindNumber, raw: "1"},
			},
		},
		{
			name: "nested values are skipped as a whole",
			buf:  `{"meta": {"imagePrompt": "}"}, "list": [1, [2]], "youtubeVideo": "go"}`,
			want: map[string]field{
				"meta":         {kind: kindComposite, raw: `{"imagePrompt": "}"}`, complete: true},
				"list":         {kind: kindComposite, raw: `[1, [2]]`, complete: true},
				"youtubeVideo": {kind: kindString, raw: "go", complete: true},
			},
		},
		{
			name: "partial literal",
			buf:  `{"imagePrompt": nu`,
			want: map[string]field{
				"imagePrompt": {kind: kindNull, raw: "nu"},
			},
		},
		{
			name: "garbage stops the scan",
			buf:  `{"a": "b" "c": "d"}`,
			want: map[string]field{
				"a": {kind: kindString, raw: "b", complete: true},
			},
		},
		{
			name: "bad literal",
			buf:  `{"a": nope, "b": "c"}`,
			want: map[string]field{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scanTopLevel(tt.buf))
		})
	}
}

func TestField_Decoded(t *testing.T) {
	fields := scanTopLevel(`{"chatResponse": "line\none \"quoted\" back\\slash é"}`)
	text, ok := fields["chatResponse"].decoded()
	require.True(t, ok)
	assert.Equal(t, "line\none \"quoted\" back\\slash é", text)

	_, ok = field{kind: kindString, raw: "half"}.decoded()
	assert.False(t, ok, "незаконченная строка не раскрывается")
}

func TestField_DecodedRawControlCharacters(t *testing.T) {
	fields := scanTopLevel("{\"chatResponse\": \"first line\nsecond\tline\", \"imagePrompt\": null}")
	text, ok := fields["chatResponse"].decoded()
	require.True(t, ok)
	assert.Equal(t, "first line\nsecond\tline", text)

	buf := pad + "{\"chatResponse\": \"line one\nline two\", \"numImages\": 0"
	assert.Equal(t, "line one\nline two", Derive(buf, 0, DefaultMinDisplayChars).Text)
}
