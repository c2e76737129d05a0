package mcu

import (
	"errors"
	"fmt"
	"strings"

	"gopperh7/protocol"
)

var ErrArgCount = errors.New("mcu: wrong number of arguments")

type paramKind uint8

const (
	paramUint paramKind = iota
	paramInt
	paramBytes
)

type param struct {
	name string
	kind paramKind
}

// MessageFormat is a parsed dictionary key such as
// "spi_transfer oid=%c data=%*s".
type MessageFormat struct {
	Name   string
	params []param
}

// ParseMessageFormat splits a dictionary key into its name and typed
// parameters.
func ParseMessageFormat(key string) (MessageFormat, error) {
	fields := strings.Fields(key)
	if len(fields) == 0 {
		return MessageFormat{}, fmt.Errorf("empty message format")
	}
	mf := MessageFormat{Name: fields[0]}
	for _, f := range fields[1:] {
		name, spec, ok := strings.Cut(f, "=")
		if !ok {
			return MessageFormat{}, fmt.Errorf("%s: malformed parameter %q", mf.Name, f)
		}
		switch spec {
		case "%c", "%u", "%hu":
			mf.params = append(mf.params, param{name, paramUint})
		case "%i", "%hi":
			mf.params = append(mf.params, param{name, paramInt})
		case "%*s", "%.*s", "%s":
			mf.params = append(mf.params, param{name, paramBytes})
		default:
			return MessageFormat{}, fmt.Errorf("%s: unsupported type %q for %s", mf.Name, spec, name)
		}
	}
	return mf, nil
}

// Params returns the parameter names in wire order.
func (mf MessageFormat) Params() []string {
	names := make([]string, len(mf.params))
	for i, p := range mf.params {
		names[i] = p.name
	}
	return names
}

// Encode returns a writer for args in parameter order. Integer parameters
// take any integer type; byte parameters take []byte or string.
func (mf MessageFormat) Encode(args ...interface{}) (func(protocol.OutputBuffer), error) {
	if len(args) != len(mf.params) {
		return nil, fmt.Errorf("%s: %w: got %d, want %d", mf.Name, ErrArgCount, len(args), len(mf.params))
	}
	for i, p := range mf.params {
		if err := checkArg(p, args[i]); err != nil {
			return nil, fmt.Errorf("%s: %w", mf.Name, err)
		}
	}
	return func(out protocol.OutputBuffer) {
		for i, p := range mf.params {
			if p.kind == paramBytes {
				protocol.EncodeVLQBytes(out, toBytes(args[i]))
				continue
			}
			protocol.EncodeVLQInt(out, toInt32(args[i]))
		}
	}, nil
}

// Decode parses a response payload (after its ID). Integers come back as
// int64, unsigned ones in 0..2^32-1; byte values as []byte.
func (mf MessageFormat) Decode(data []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(mf.params))
	for _, p := range mf.params {
		if p.kind == paramBytes {
			b, err := protocol.DecodeVLQBytes(&data)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", mf.Name, p.name, err)
			}
			out[p.name] = append([]byte(nil), b...)
			continue
		}
		v, err := protocol.DecodeVLQInt(&data)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", mf.Name, p.name, err)
		}
		if p.kind == paramUint {
			out[p.name] = int64(uint32(v))
		} else {
			out[p.name] = int64(v)
		}
	}
	return out, nil
}

func checkArg(p param, v interface{}) error {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		if p.kind != paramBytes {
			return nil
		}
	case []byte, string:
		if p.kind == paramBytes {
			return nil
		}
	}
	return fmt.Errorf("parameter %s: unexpected %T", p.name, v)
}

func toBytes(v interface{}) []byte {
	if s, ok := v.(string); ok {
		return []byte(s)
	}
	return v.([]byte)
}

func toInt32(v interface{}) int32 {
	switch n := v.(type) {
	case int:
		return int32(n)
	case int8:
		return int32(n)
	case int16:
		return int32(n)
	case int32:
		return n
	case int64:
		return int32(n)
	case uint:
		return int32(n)
	case uint8:
		return int32(n)
	case uint16:
		return int32(n)
	case uint32:
		return int32(n)
	case uint64:
		return int32(n)
	}
	return 0
}
