package protocol

import (
	"strconv"
	"strings"
)

type fieldKind uint8

const (
	fieldText fieldKind = iota
	fieldHex
	fieldDecimal
)

type field struct {
	kind fieldKind
	num  uint64
	text string
}

func (f field) String() string {
	switch f.kind {
	case fieldHex:
		return FormatHex(f.num)
	case fieldDecimal:
		return strconv.FormatUint(f.num, 10)
	default:
		return f.text
	}
}

// Line is an output line made of typed fields joined by '_'.
// Every report goes through it so that hex and text fields are always
// rendered the same way.
type Line struct {
	fields []field
}

func NewLine(keywords ...string) *Line {
	l := &Line{fields: make([]field, 0, len(keywords)+10)}
	for _, keyword := range keywords {
		l.Text(keyword)
	}
	return l
}

func (l *Line) Text(text string) *Line {
	l.fields = append(l.fields, field{kind: fieldText, text: text})
	return l
}

func (l *Line) Hex(v uint64) *Line {
	l.fields = append(l.fields, field{kind: fieldHex, num: v})
	return l
}

func (l *Line) HexBytes(data []byte) *Line {
	for _, b := range data {
		l.Hex(uint64(b))
	}
	return l
}

func (l *Line) Decimal(v uint64) *Line {
	l.fields = append(l.fields, field{kind: fieldDecimal, num: v})
	return l
}

func (l *Line) String() string {
	var sb strings.Builder
	for i, f := range l.fields {
		if i > 0 {
			sb.WriteByte(FieldSeparator)
		}
		sb.WriteString(f.String())
	}
	return sb.String()
}
