package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

type valueKind int

const (
	kindString valueKind = iota + 1
	kindNumber
	kindLiteral // true/false
	kindNull
	kindComposite // вложенный объект или массив
)

// field значение верхнего уровня недописанного JSON-объекта.
// raw у строки содержит то, что между кавычками как есть (escape-последовательности не раскрыты),
// у числа и литерала это их текст.
type field struct {
	kind     valueKind
	raw      string
	complete bool
}

// decoded раскрывает escape-последовательности законченной строки.
func (f field) decoded() (string, bool) {
	if f.kind != kindString || !f.complete {
		return "", false
	}
	if s, ok := unquote(f.raw); ok {
		return s, true
	}
	// модели иногда пишут в строку сырой перевод строки; для показа экранируем его сами
	return unquote(escapeControl(f.raw))
}

func unquote(raw string) (string, bool) {
	var s string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &s); err != nil {
		return "", false
	}
	return s, true
}

func escapeControl(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20:
			fmt.Fprintf(&b, `\u%04x`, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// scanTopLevel проходит верхний уровень объекта в buf слева направо и собирает поля,
// пока разбор возможен. Позиция разбора отслеживается явно, поэтому ключи внутри
// строковых значений и вложенных объектов никогда не принимаются за поля.
// Последнее поле может быть незаконченным (complete == false); после него разбор останавливается.
func scanTopLevel(buf string) map[string]field {
	out := make(map[string]field, 4)
	s := &scanner{buf: buf}

	s.skipSpace()
	if !s.consume('{') {
		return out
	}
	for {
		s.skipSpace()
		if s.eof() || s.peek() == '}' {
			return out
		}
		key, ok := s.readString()
		if !ok || !key.complete {
			return out
		}
		name, ok := key.decoded()
		if !ok {
			return out
		}
		s.skipSpace()
		if !s.consume(':') {
			return out
		}
		s.skipSpace()
		if s.eof() {
			return out
		}
		val, ok := s.readValue()
		if !ok {
			return out
		}
		out[name] = val
		if !val.complete {
			return out
		}
		s.skipSpace()
		if s.eof() || s.peek() != ',' {
			// '}' закрывает объект, иначе дальше мусор; полей больше нет
			return out
		}
		s.pos++
	}
}

type scanner struct {
	buf string
	pos int
}

func (s *scanner) eof() bool  { return s.pos >= len(s.buf) }
func (s *scanner) peek() byte { return s.buf[s.pos] }

func (s *scanner) skipSpace() {
	for !s.eof() {
		switch s.peek() {
		case ' ', '\t', '\n', '\r':
			s.pos++
		default:
			return
		}
	}
}

func (s *scanner) consume(c byte) bool {
	if s.eof() || s.peek() != c {
		return false
	}
	s.pos++
	return true
}

// readString читает строку, начиная с открывающей кавычки.
// Незаконченная строка возвращается без хвостового обрывка escape-последовательности.
func (s *scanner) readString() (field, bool) {
	if !s.consume('"') {
		return field{}, false
	}
	start := s.pos
	for i := start; i < len(s.buf); i++ {
		switch s.buf[i] {
		case '\\':
			if i+1 >= len(s.buf) {
				s.pos = len(s.buf)
				return field{kind: kindString, raw: s.buf[start:i]}, true
			}
			i++
		case '"':
			s.pos = i + 1
			return field{kind: kindString, raw: s.buf[start:i], complete: true}, true
		}
	}
	s.pos = len(s.buf)
	return field{kind: kindString, raw: s.buf[start:]}, true
}

func (s *scanner) readValue() (field, bool) {
	switch c := s.peek(); {
	case c == '"':
		return s.readString()
	case c == '-' || (c >= '0' && c <= '9'):
		return s.readNumber(), true
	case c == 'n':
		return s.readLiteral("null", kindNull)
	case c == 't':
		return s.readLiteral("true", kindLiteral)
	case c == 'f':
		return s.readLiteral("false", kindLiteral)
	case c == '{' || c == '[':
		return s.skipComposite(), true
	default:
		return field{}, false
	}
}

// readNumber читает число; оно законченное, только если за ним уже виден разделитель.
func (s *scanner) readNumber() field {
	start := s.pos
	for !s.eof() {
		c := s.peek()
		if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' {
			s.pos++
			continue
		}
		break
	}
	return field{kind: kindNumber, raw: s.buf[start:s.pos], complete: !s.eof()}
}

func (s *scanner) readLiteral(lit string, kind valueKind) (field, bool) {
	rest := s.buf[s.pos:]
	if len(rest) >= len(lit) {
		if rest[:len(lit)] != lit {
			return field{}, false
		}
		s.pos += len(lit)
		return field{kind: kind, raw: lit, complete: true}, true
	}
	if lit[:len(rest)] != rest {
		return field{}, false
	}
	s.pos = len(s.buf)
	return field{kind: kind, raw: rest}, true
}

// skipComposite пропускает вложенный объект/массив с учётом строк и глубины.
func (s *scanner) skipComposite() field {
	start := s.pos
	depth := 0
	for !s.eof() {
		switch s.peek() {
		case '"':
			f, _ := s.readString()
			if !f.complete {
				return field{kind: kindComposite, raw: s.buf[start:]}
			}
			continue
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				s.pos++
				return field{kind: kindComposite, raw: s.buf[start:s.pos], complete: true}
			}
		}
		s.pos++
	}
	return field{kind: kindComposite, raw: s.buf[start:]}
}
