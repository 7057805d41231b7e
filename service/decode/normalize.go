package decode

import (
	"math/big"
	"reflect"
	"strconv"
	"unicode"
	"unicode/utf8"

	solanago "github.com/gagliardetto/solana-go"
)

var (
	pubkeyType = reflect.TypeOf(solanago.PublicKey{})
	bigIntType = reflect.TypeOf(big.Int{})
)

// normalizeStruct flattens a decoded variant struct into a map of field
// name to normalized scalar. The input is never mutated; every map and
// slice in the result is freshly allocated.
func normalizeStruct(v any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return map[string]any{}
		}
		rv = rv.Elem()
	}
	out, ok := normalizeValue(rv).(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return out
}

// normalizeValue applies the scalar rendering rules recursively:
// chain addresses become base58 strings, 64-bit and larger integers
// become hexadecimal strings, byte arrays that look like text become
// strings, and everything else passes through unchanged.
func normalizeValue(rv reflect.Value) any {
	switch rv.Type() {
	case pubkeyType:
		return rv.Interface().(solanago.PublicKey).String()
	case bigIntType:
		n := rv.Interface().(big.Int)
		return n.Text(16)
	}

	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalizeValue(rv.Elem())

	case reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 16)
	case reflect.Int64:
		return strconv.FormatInt(rv.Int(), 16)

	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return rv.Uint()
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return rv.Int()

	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()

	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			raw := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(raw), rv)
			if s, ok := plausibleText(raw); ok {
				return s
			}
			return raw
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalizeValue(rv.Index(i))
		}
		return out

	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			if key, ok := iter.Key().Interface().(string); ok {
				out[key] = normalizeValue(iter.Value())
			}
		}
		return out

	case reflect.Struct:
		t := rv.Type()
		out := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			out[lowerCamel(field.Name)] = normalizeValue(rv.Field(i))
		}
		return out

	default:
		return rv.Interface()
	}
}

// plausibleText reports whether raw decodes to a printable string,
// trimming trailing zero padding from fixed-width fields first.
func plausibleText(raw []byte) (string, bool) {
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	trimmed := raw[:end]
	if len(trimmed) == 0 {
		return "", false
	}
	if !utf8.Valid(trimmed) {
		return "", false
	}
	for _, r := range string(trimmed) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return "", false
		}
	}
	return string(trimmed), true
}

func lowerCamel(name string) string {
	if name == "" {
		return name
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(r)) + name[size:]
}
