package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// maxLiteralDepth bounds nesting so a hostile payload cannot exhaust the stack.
const maxLiteralDepth = 200

// parsePyLiteral parses a Python literal expression into Go values:
// dict → map[string]any, list/tuple → []any, str → string, int → int64,
// float → float64, True/False → bool, None → nil.
func parsePyLiteral(s string) (any, error) {
	p := &pyParser{src: s}
	p.skipSpace()
	v, err := p.value(0)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errf("trailing content at offset %d", p.pos)
	}
	return v, nil
}

type pyParser struct {
	src string
	pos int
}

func (p *pyParser) errf(format string, args ...any) error {
	return fmt.Errorf("python literal: "+format, args...)
}

func (p *pyParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *pyParser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *pyParser) value(depth int) (any, error) {
	if depth > maxLiteralDepth {
		return nil, p.errf("nesting too deep")
	}
	switch c := p.peek(); {
	case c == '{':
		return p.dict(depth)
	case c == '[':
		return p.seq(depth, ']')
	case c == '(':
		return p.seq(depth, ')')
	case c == '\'' || c == '"':
		return p.str()
	case c == 'u' || c == 'U':
		// unicode string prefix: u'...'
		if p.pos+1 < len(p.src) && (p.src[p.pos+1] == '\'' || p.src[p.pos+1] == '"') {
			p.pos++
			return p.str()
		}
		return p.ident()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	case c == 'T' || c == 'F' || c == 'N':
		return p.ident()
	default:
		return nil, p.errf("unexpected character %q at offset %d", c, p.pos)
	}
}

func (p *pyParser) ident() (any, error) {
	start := p.pos
	for p.pos < len(p.src) && isIdentChar(p.src[p.pos]) {
		p.pos++
	}
	switch p.src[start:p.pos] {
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "None":
		return nil, nil
	}
	return nil, p.errf("unknown identifier %q at offset %d", p.src[start:p.pos], start)
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (p *pyParser) dict(depth int) (any, error) {
	p.pos++ // '{'
	m := make(map[string]any)
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return m, nil
	}
	for {
		p.skipSpace()
		key, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ':' {
			return nil, p.errf("expected ':' at offset %d", p.pos)
		}
		p.pos++
		p.skipSpace()
		val, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		m[keyString(key)] = val
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			p.skipSpace()
			if p.peek() == '}' { // trailing comma
				p.pos++
				return m, nil
			}
		case '}':
			p.pos++
			return m, nil
		default:
			return nil, p.errf("expected ',' or '}' at offset %d", p.pos)
		}
	}
}

// keyString coerces a dict key. Payload lookups only ever use string keys,
// so non-string keys just need to stay distinct and harmless.
func keyString(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprint(k)
}

func (p *pyParser) seq(depth int, end byte) (any, error) {
	p.pos++ // '[' or '('
	out := []any{}
	p.skipSpace()
	if p.peek() == end {
		p.pos++
		return out, nil
	}
	for {
		p.skipSpace()
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			p.skipSpace()
			if p.peek() == end { // trailing comma, including 1-tuples
				p.pos++
				return out, nil
			}
		case end:
			p.pos++
			return out, nil
		default:
			return nil, p.errf("expected ',' or %q at offset %d", string(end), p.pos)
		}
	}
}

func (p *pyParser) str() (any, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case quote:
			p.pos++
			return b.String(), nil
		case '\\':
			p.pos++
			if p.pos >= len(p.src) {
				return nil, p.errf("unterminated escape")
			}
			if err := p.escape(&b); err != nil {
				return nil, err
			}
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return nil, p.errf("unterminated string")
}

// escape consumes one escape sequence (the backslash is already consumed).
// Unknown escapes keep the backslash, matching Python.
func (p *pyParser) escape(b *strings.Builder) error {
	c := p.src[p.pos]
	p.pos++
	switch c {
	case '\\', '\'', '"':
		b.WriteByte(c)
	case 'a':
		b.WriteByte(0x07)
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'n':
		b.WriteByte('\n')
	case 'r':
		b.WriteByte('\r')
	case 't':
		b.WriteByte('\t')
	case 'v':
		b.WriteByte('\v')
	case 'x':
		return p.hexEscape(b, 2)
	case 'u':
		return p.hexEscape(b, 4)
	case 'U':
		return p.hexEscape(b, 8)
	case '\n':
		// line continuation swallows the newline
	default:
		if c >= '0' && c <= '7' {
			// octal code point, up to 3 digits
			n := int(c - '0')
			for i := 0; i < 2 && p.pos < len(p.src); i++ {
				d := p.src[p.pos]
				if d < '0' || d > '7' {
					break
				}
				n = n*8 + int(d-'0')
				p.pos++
			}
			b.WriteRune(rune(n))
			return nil
		}
		b.WriteByte('\\')
		b.WriteByte(c)
	}
	return nil
}

// hexEscape consumes width hex digits and writes the code point.
func (p *pyParser) hexEscape(b *strings.Builder, width int) error {
	if p.pos+width > len(p.src) {
		return p.errf("truncated hex escape at offset %d", p.pos)
	}
	n, err := strconv.ParseUint(p.src[p.pos:p.pos+width], 16, 32)
	if err != nil {
		return p.errf("bad hex escape at offset %d", p.pos)
	}
	p.pos += width
	b.WriteRune(rune(n))
	return nil
}

func (p *pyParser) number() (any, error) {
	start := p.pos
	if c := p.peek(); c == '+' || c == '-' {
		p.pos++
	}
	isFloat := false
loop:
	for p.pos < len(p.src) {
		switch c := p.src[p.pos]; {
		case (c >= '0' && c <= '9') || c == '_':
			p.pos++
		case c == '.':
			isFloat = true
			p.pos++
		case c == 'e' || c == 'E':
			isFloat = true
			p.pos++
			if c2 := p.peek(); c2 == '+' || c2 == '-' {
				p.pos++
			}
		default:
			break loop
		}
	}
	text := strings.ReplaceAll(p.src[start:p.pos], "_", "")
	if text == "" || text == "+" || text == "-" {
		return nil, p.errf("bad number at offset %d", start)
	}
	if !isFloat {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n, nil
		}
		// ints beyond 64 bits fall through to float
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errf("bad number %q at offset %d", text, start)
	}
	return f, nil
}
