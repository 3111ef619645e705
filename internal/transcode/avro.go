// Package transcode turns validated JSON payloads into Avro binary records.
package transcode

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"time"

	"github.com/hamba/avro/v2"
	"github.com/tidwall/gjson"

	"github.com/jmehdipour/ingest-gateway/internal/endpoint"
	"github.com/jmehdipour/ingest-gateway/internal/schemaregistry"
)

// FieldError reports where a payload does not conform to its schema.
type FieldError struct {
	Path   string
	Reason string
}

func (e *FieldError) Error() string { return e.Path + ": " + e.Reason }

// Avro encodes raw (already validated JSON) as a record of s.Parsed. When the
// schema carries a registry id the output is prefixed with the Confluent header.
func Avro(raw []byte, s *endpoint.Schema) ([]byte, error) {
	if s == nil || s.Parsed == nil {
		return nil, errors.New("transcode: no schema")
	}

	c := converter{strict: s.Strict}
	v, err := c.value(s.Parsed, gjson.ParseBytes(raw), "$")
	if err != nil {
		return nil, err
	}

	out, err := avro.Marshal(s.Parsed, v)
	if err != nil {
		return nil, fmt.Errorf("encode avro: %w", err)
	}

	if s.ID > 0 {
		return append(schemaregistry.EncodeSchemaID(s.ID), out...), nil
	}
	return out, nil
}

type converter struct {
	strict bool
}

func mismatch(path, want string, v gjson.Result) error {
	return &FieldError{Path: path, Reason: fmt.Sprintf("expected %s, got %s", want, kindOf(v))}
}

func kindOf(v gjson.Result) string {
	switch {
	case !v.Exists():
		return "nothing"
	case v.IsObject():
		return "object"
	case v.IsArray():
		return "array"
	case v.Type == gjson.True, v.Type == gjson.False:
		return "boolean"
	default:
		return v.Type.String()
	}
}

func (c converter) value(s avro.Schema, v gjson.Result, path string) (any, error) {
	switch s := s.(type) {
	case *avro.RefSchema:
		return c.value(s.Schema(), v, path)
	case *avro.RecordSchema:
		return c.record(s, v, path)
	case *avro.UnionSchema:
		return c.union(s, v, path)
	case *avro.ArraySchema:
		if !v.IsArray() {
			return nil, mismatch(path, "array", v)
		}
		elems := v.Array()
		out := make([]any, 0, len(elems))
		for i, e := range elems {
			item, err := c.value(s.Items(), e, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case *avro.MapSchema:
		if !v.IsObject() {
			return nil, mismatch(path, "object", v)
		}
		out := make(map[string]any)
		var err error
		v.ForEach(func(k, e gjson.Result) bool {
			var item any
			item, err = c.value(s.Values(), e, path+"."+k.String())
			out[k.String()] = item
			return err == nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	case *avro.EnumSchema:
		if v.Type != gjson.String {
			return nil, mismatch(path, "enum symbol", v)
		}
		for _, sym := range s.Symbols() {
			if sym == v.Str {
				return v.Str, nil
			}
		}
		return nil, &FieldError{Path: path, Reason: fmt.Sprintf("unknown symbol %q for enum %s", v.Str, s.FullName())}
	case *avro.FixedSchema:
		return c.fixed(s, v, path)
	case *avro.NullSchema:
		if v.Type != gjson.Null {
			return nil, mismatch(path, "null", v)
		}
		return nil, nil
	case *avro.PrimitiveSchema:
		return c.primitive(s, v, path)
	}
	return nil, &FieldError{Path: path, Reason: fmt.Sprintf("unsupported schema type %s", s.Type())}
}

func (c converter) record(s *avro.RecordSchema, v gjson.Result, path string) (any, error) {
	if !v.IsObject() {
		return nil, mismatch(path, "object for record "+s.FullName(), v)
	}

	present := make(map[string]gjson.Result)
	v.ForEach(func(k, e gjson.Result) bool {
		present[k.String()] = e
		return true
	})

	out := make(map[string]any, len(s.Fields()))
	for _, f := range s.Fields() {
		e, ok := present[f.Name()]
		if !ok {
			// omitted fields fall back to the schema default at encode time
			if f.HasDefault() {
				continue
			}
			return nil, &FieldError{Path: path + "." + f.Name(), Reason: "missing required field"}
		}
		delete(present, f.Name())

		item, err := c.value(f.Type(), e, path+"."+f.Name())
		if err != nil {
			return nil, err
		}
		out[f.Name()] = item
	}

	if c.strict {
		for k := range present {
			return nil, &FieldError{Path: path + "." + k, Reason: "field not declared by record " + s.FullName()}
		}
	}
	return out, nil
}

// union picks the first branch, in declaration order, the value converts to.
// Values are wrapped as {branch name: value}; null becomes the empty map.
func (c converter) union(s *avro.UnionSchema, v gjson.Result, path string) (any, error) {
	if v.Type == gjson.Null {
		if s.Nullable() {
			return map[string]any{}, nil
		}
		return nil, mismatch(path, "non-null value", v)
	}

	var firstErr error
	for _, branch := range s.Types() {
		if branch.Type() == avro.Null {
			continue
		}
		item, err := c.value(branch, v, path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return map[string]any{branchName(branch): item}, nil
	}

	if firstErr == nil {
		return nil, mismatch(path, "null", v)
	}
	return nil, &FieldError{Path: path, Reason: fmt.Sprintf("no union branch matches %s", kindOf(v))}
}

func branchName(s avro.Schema) string {
	switch ts := s.(type) {
	case *avro.RefSchema:
		return ts.Schema().FullName()
	case avro.NamedSchema:
		return ts.FullName()
	case avro.LogicalTypeSchema:
		if l := ts.Logical(); l != nil {
			return string(s.Type()) + "." + string(l.Type())
		}
	}
	return string(s.Type())
}

func (c converter) fixed(s *avro.FixedSchema, v gjson.Result, path string) (any, error) {
	if l := s.Logical(); l != nil && l.Type() == avro.Decimal && v.Type == gjson.Number {
		return decimal(v, path)
	}
	if v.Type != gjson.String {
		return nil, mismatch(path, "string for fixed "+s.FullName(), v)
	}
	b, err := latin1(v.Str, path)
	if err != nil {
		return nil, err
	}
	if len(b) != s.Size() {
		return nil, &FieldError{Path: path, Reason: fmt.Sprintf("fixed %s needs %d bytes, got %d", s.FullName(), s.Size(), len(b))}
	}

	arr := reflect.New(reflect.ArrayOf(s.Size(), reflect.TypeOf(byte(0)))).Elem()
	reflect.Copy(arr, reflect.ValueOf(b))
	return arr.Interface(), nil
}

func (c converter) primitive(s *avro.PrimitiveSchema, v gjson.Result, path string) (any, error) {
	var logical avro.LogicalType
	if l := s.Logical(); l != nil {
		logical = l.Type()
	}

	switch s.Type() {
	case avro.Null:
		if v.Type != gjson.Null {
			return nil, mismatch(path, "null", v)
		}
		return nil, nil

	case avro.Boolean:
		if v.Type != gjson.True && v.Type != gjson.False {
			return nil, mismatch(path, "boolean", v)
		}
		return v.Bool(), nil

	case avro.String:
		if v.Type != gjson.String {
			return nil, mismatch(path, "string", v)
		}
		return v.Str, nil

	case avro.Bytes:
		if logical == avro.Decimal && v.Type == gjson.Number {
			return decimal(v, path)
		}
		if v.Type != gjson.String {
			return nil, mismatch(path, "string for bytes", v)
		}
		return latin1(v.Str, path)

	case avro.Int:
		if logical == avro.Date && v.Type == gjson.String {
			t, err := time.Parse(time.DateOnly, v.Str)
			if err != nil {
				return nil, &FieldError{Path: path, Reason: "invalid date " + strconv.Quote(v.Str)}
			}
			return t, nil
		}
		if v.Type != gjson.Number {
			return nil, mismatch(path, "int", v)
		}
		n, err := strconv.ParseInt(v.Raw, 10, 32)
		if err != nil {
			return nil, numberError(path, "int", v.Raw, err)
		}
		return int32(n), nil

	case avro.Long:
		if (logical == avro.TimestampMillis || logical == avro.TimestampMicros) && v.Type == gjson.String {
			t, err := time.Parse(time.RFC3339Nano, v.Str)
			if err != nil {
				return nil, &FieldError{Path: path, Reason: "invalid timestamp " + strconv.Quote(v.Str)}
			}
			return t, nil
		}
		if v.Type != gjson.Number {
			return nil, mismatch(path, "long", v)
		}
		n, err := strconv.ParseInt(v.Raw, 10, 64)
		if err != nil {
			return nil, numberError(path, "long", v.Raw, err)
		}
		if logical == avro.TimeMicros {
			return time.Duration(n) * time.Microsecond, nil
		}
		return n, nil

	case avro.Float:
		if v.Type != gjson.Number {
			return nil, mismatch(path, "float", v)
		}
		f := v.Float()
		if math.IsInf(f, 0) || math.Abs(f) > math.MaxFloat32 {
			return nil, &FieldError{Path: path, Reason: fmt.Sprintf("%s out of range for float", v.Raw)}
		}
		return float32(f), nil

	case avro.Double:
		if v.Type != gjson.Number {
			return nil, mismatch(path, "double", v)
		}
		f := v.Float()
		if math.IsInf(f, 0) {
			return nil, &FieldError{Path: path, Reason: fmt.Sprintf("%s out of range for double", v.Raw)}
		}
		return f, nil
	}

	return nil, &FieldError{Path: path, Reason: fmt.Sprintf("unsupported primitive %s", s.Type())}
}

func numberError(path, want, raw string, err error) error {
	if errors.Is(err, strconv.ErrRange) {
		return &FieldError{Path: path, Reason: fmt.Sprintf("%s out of range for %s", raw, want)}
	}
	return &FieldError{Path: path, Reason: fmt.Sprintf("expected %s, got %s", want, raw)}
}

func decimal(v gjson.Result, path string) (any, error) {
	r, ok := new(big.Rat).SetString(v.Raw)
	if !ok {
		return nil, &FieldError{Path: path, Reason: "invalid decimal " + v.Raw}
	}
	return r, nil
}

// latin1 maps each code point to one byte, the Avro JSON encoding of bytes.
func latin1(s, path string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return nil, &FieldError{Path: path, Reason: fmt.Sprintf("code point U+%04X does not fit in a byte", r)}
		}
		out = append(out, byte(r))
	}
	return out, nil
}
