package storage

import (
	"encoding/binary"
	"fmt"
)

// DataType is a column's declared type.
type DataType int

const (
	TypeInt DataType = iota
	TypeString
)

func (t DataType) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeString:
		return "STRING"
	default:
		return "UNKNOWN"
	}
}

// Column describes one field of a table schema: its name, type, and (for
// STRING) declared byte capacity.
type Column struct {
	Name   string
	Type   DataType
	Length int // declared byte capacity; STRING only
}

// width returns the on-disk width of one value of this column.
func (c Column) width() int {
	if c.Type == TypeInt {
		return 4
	}
	return c.Length
}

// Schema is an ordered list of columns. Columns are looked up by name
// (case-sensitive) or ordinal.
type Schema struct {
	Columns    []Column
	RecordSize int
	byName     map[string]int
}

// NewSchema builds a Schema from an ordered column list, computing the
// fixed record size. STRING columns must declare a positive length.
func NewSchema(cols []Column) (*Schema, error) {
	s := &Schema{Columns: append([]Column(nil), cols...), byName: make(map[string]int, len(cols))}
	for i, c := range s.Columns {
		if c.Type == TypeString && c.Length <= 0 {
			return nil, fmt.Errorf("schema: column %q: STRING column must have positive length", c.Name)
		}
		s.RecordSize += c.width()
		s.byName[c.Name] = i
	}
	return s, nil
}

// ColumnIndex looks up a column's ordinal by name.
func (s *Schema) ColumnIndex(name string) (int, bool) {
	i, ok := s.byName[name]
	return i, ok
}

// Value is a tagged variant over INT and STRING. Comparison and
// arithmetic between mismatched variants is an error, never a coercion.
type Value struct {
	isString bool
	i        int32
	s        string
}

// IntValue constructs an INT value.
func IntValue(v int32) Value { return Value{i: v} }

// StringValue constructs a STRING value.
func StringValue(v string) Value { return Value{isString: true, s: v} }

// IsString reports whether v holds a STRING.
func (v Value) IsString() bool { return v.isString }

// Int returns the INT payload of v. Only valid if !v.IsString().
func (v Value) Int() int32 { return v.i }

// Str returns the STRING payload of v. Only valid if v.IsString().
func (v Value) Str() string { return v.s }

// String renders v for diagnostics.
func (v Value) String() string {
	if v.isString {
		return fmt.Sprintf("STRING(%q)", v.s)
	}
	return fmt.Sprintf("INT(%d)", v.i)
}

// CompareValues orders a against b. Comparing values of different variants
// is ErrTypeMismatch, never a coercion.
func CompareValues(a, b Value) (int, error) {
	if a.isString != b.isString {
		return 0, fmt.Errorf("compare %v vs %v: %w", a, b, ErrTypeMismatch)
	}
	if a.isString {
		switch {
		case a.s < b.s:
			return -1, nil
		case a.s > b.s:
			return 1, nil
		default:
			return 0, nil
		}
	}
	switch {
	case a.i < b.i:
		return -1, nil
	case a.i > b.i:
		return 1, nil
	default:
		return 0, nil
	}
}

// Tuple is an ordered sequence of field values conforming to a schema.
type Tuple []Value

// SerializeTuple encodes values into schema's fixed record size. INT
// fields are 4 bytes little-endian; STRING fields are zero-padded (and
// truncated) to their declared capacity. Values must already conform to
// the schema's column count and types.
func SerializeTuple(schema *Schema, values Tuple) ([]byte, error) {
	if len(values) != len(schema.Columns) {
		return nil, fmt.Errorf("serialize: expected %d values, got %d", len(schema.Columns), len(values))
	}
	buf := make([]byte, schema.RecordSize)
	off := 0
	for i, col := range schema.Columns {
		v := values[i]
		switch col.Type {
		case TypeInt:
			if v.isString {
				return nil, fmt.Errorf("serialize column %q: %w", col.Name, ErrTypeMismatch)
			}
			binary.LittleEndian.PutUint32(buf[off:], uint32(v.i))
			off += 4
		case TypeString:
			if !v.isString {
				return nil, fmt.Errorf("serialize column %q: %w", col.Name, ErrTypeMismatch)
			}
			n := copy(buf[off:off+col.Length], v.s)
			for j := off + n; j < off+col.Length; j++ {
				buf[j] = 0
			}
			off += col.Length
		}
	}
	return buf, nil
}

// DeserializeTuple decodes a record payload of schema.RecordSize bytes.
// STRING fields are truncated at the first zero byte.
func DeserializeTuple(schema *Schema, buf []byte) (Tuple, error) {
	if len(buf) != schema.RecordSize {
		return nil, fmt.Errorf("deserialize: expected %d bytes, got %d", schema.RecordSize, len(buf))
	}
	values := make(Tuple, len(schema.Columns))
	off := 0
	for i, col := range schema.Columns {
		switch col.Type {
		case TypeInt:
			values[i] = IntValue(int32(binary.LittleEndian.Uint32(buf[off:])))
			off += 4
		case TypeString:
			raw := buf[off : off+col.Length]
			n := 0
			for n < len(raw) && raw[n] != 0 {
				n++
			}
			values[i] = StringValue(string(raw[:n]))
			off += col.Length
		}
	}
	return values, nil
}
