package pdfengine

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var errUnterminated = errors.New("unterminated content stream token")

type objectKind int

const (
	objNumber objectKind = iota
	objString
	objName
	objArray
	objDict
	objOther
)

// object is one operand of a content stream operator
type object struct {
	kind  objectKind
	num   float64
	str   []byte // decoded string bytes or name without the slash
	items []object
}

// instruction is an operator with its operands and the byte span it occupies
type instruction struct {
	op         string
	operands   []object
	start, end int
}

// parseContent splits a decoded content stream into instructions.
func parseContent(data []byte) ([]instruction, error) {
	l := &lexer{data: data}
	var (
		instrs   []instruction
		operands []object
	)
	start := -1
	for {
		l.skipSpace()
		if l.pos >= len(l.data) {
			break
		}
		if start < 0 {
			start = l.pos
		}
		obj, op, err := l.next()
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", l.pos, err)
		}
		if op == "" {
			operands = append(operands, obj)
			continue
		}
		in := instruction{op: op, operands: operands, start: start}
		if op == "ID" {
			if err := l.skipInlineImage(); err != nil {
				return nil, err
			}
		}
		in.end = l.pos
		instrs = append(instrs, in)
		operands, start = nil, -1
	}
	return instrs, nil
}

type lexer struct {
	data []byte
	pos  int
}

func isSpace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		if !isSpace(c) {
			return
		}
		l.pos++
	}
}

func (l *lexer) regular() string {
	start := l.pos
	for l.pos < len(l.data) && !isSpace(l.data[l.pos]) && !isDelimiter(l.data[l.pos]) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

// next returns either an operand or, for a bare keyword, its operator name.
func (l *lexer) next() (object, string, error) {
	c := l.data[l.pos]
	switch {
	case c == '(':
		l.pos++
		s, err := l.literalString()
		return object{kind: objString, str: s}, "", err
	case c == '<' && l.pos+1 < len(l.data) && l.data[l.pos+1] == '<':
		l.pos += 2
		return l.dict()
	case c == '<':
		l.pos++
		s, err := l.hexString()
		return object{kind: objString, str: s}, "", err
	case c == '[':
		l.pos++
		return l.array()
	case c == '/':
		l.pos++
		return object{kind: objName, str: []byte(decodeName(l.regular()))}, "", nil
	case c == '{' || c == '}':
		l.pos++
		return object{}, string(c), nil
	case isDelimiter(c):
		return object{}, "", fmt.Errorf("unexpected %q", c)
	}

	word := l.regular()
	switch word {
	case "true", "false", "null":
		return object{kind: objOther, str: []byte(word)}, "", nil
	}
	if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
		if f, err := strconv.ParseFloat(word, 64); err == nil {
			return object{kind: objNumber, num: f}, "", nil
		}
	}
	return object{}, word, nil
}

func (l *lexer) array() (object, string, error) {
	arr := object{kind: objArray}
	for {
		l.skipSpace()
		if l.pos >= len(l.data) {
			return arr, "", errUnterminated
		}
		if l.data[l.pos] == ']' {
			l.pos++
			return arr, "", nil
		}
		obj, op, err := l.next()
		if err != nil {
			return arr, "", err
		}
		if op != "" {
			return arr, "", fmt.Errorf("operator %s inside array", op)
		}
		arr.items = append(arr.items, obj)
	}
}

func (l *lexer) dict() (object, string, error) {
	d := object{kind: objDict}
	for {
		l.skipSpace()
		if l.pos+1 >= len(l.data) {
			return d, "", errUnterminated
		}
		if l.data[l.pos] == '>' && l.data[l.pos+1] == '>' {
			l.pos += 2
			return d, "", nil
		}
		obj, op, err := l.next()
		if err != nil {
			return d, "", err
		}
		if op != "" {
			return d, "", fmt.Errorf("operator %s inside dictionary", op)
		}
		d.items = append(d.items, obj)
	}
}

func (l *lexer) literalString() ([]byte, error) {
	var out []byte
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return out, nil
			}
		case '\\':
			if l.pos >= len(l.data) {
				return nil, errUnterminated
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.data) && l.data[l.pos] >= '0' && l.data[l.pos] <= '7'; i++ {
						v = v*8 + int(l.data[l.pos]-'0')
						l.pos++
					}
					out = append(out, byte(v))
					continue
				}
				out = append(out, e)
			}
			continue
		}
		out = append(out, c)
	}
	return nil, errUnterminated
}

func (l *lexer) hexString() ([]byte, error) {
	var digits []byte
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		if c == '>' {
			if len(digits)%2 == 1 {
				digits = append(digits, '0')
			}
			return hex.DecodeString(string(digits))
		}
		if !isSpace(c) {
			digits = append(digits, c)
		}
	}
	return nil, errUnterminated
}

// skipInlineImage moves past the binary data following ID up to and
// including the EI keyword.
func (l *lexer) skipInlineImage() error {
	if l.pos < len(l.data) && isSpace(l.data[l.pos]) {
		l.pos++
	}
	for i := l.pos; i+1 < len(l.data); i++ {
		if l.data[i] != 'E' || l.data[i+1] != 'I' {
			continue
		}
		before := i == 0 || isSpace(l.data[i-1])
		after := i+2 == len(l.data) || isSpace(l.data[i+2])
		if before && after {
			l.pos = i + 2
			return nil
		}
	}
	return errors.New("inline image without EI")
}

func decodeName(raw string) string {
	if !strings.Contains(raw, "#") {
		return raw
	}
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '#' && i+2 < len(raw) {
			if v, err := strconv.ParseUint(raw[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(raw[i])
	}
	return b.String()
}

func hexString(b []byte) string {
	return "<" + strings.ToUpper(hex.EncodeToString(b)) + ">"
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(math.Round(f*1e4)/1e4, 'f', -1, 64)
}
