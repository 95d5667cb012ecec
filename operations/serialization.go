package operations

import (
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"encoding/json"
	"math"
	"reflect"
	"sync"

	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

var (
	jsonMarshalerType   = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	jsonUnmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
	textMarshalerType   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// IsSerializable reports whether v can be written to disk as JSON and read back without losing
// data. A value is serializable if encoding/json can marshal it and the marshalled form carries
// all of its data: unexported struct fields, funcs, channels and non-finite floats are rejected.
// Types that implement both json.Marshaler and json.Unmarshaler are trusted to handle their own
// round trip.
func IsSerializable(lggr logger.Logger, v any) bool {
	if v == nil {
		return true
	}

	return isSerializableValue(lggr, reflect.ValueOf(v), map[reflect.Type]bool{})
}

func isSerializableValue(lggr logger.Logger, rv reflect.Value, seen map[reflect.Type]bool) bool {
	if !rv.IsValid() {
		return true
	}

	t := rv.Type()
	if implementsJSONRoundTrip(t) {
		return true
	}

	switch rv.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.String:
		return true

	case reflect.Float32, reflect.Float64:
		// encoding/json rejects NaN and Inf.
		if f := rv.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			lggr.Debugw("Value is not serializable", "reason", "non-finite float")
			return false
		}

		return true

	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return true
		}

		return isSerializableValue(lggr, rv.Elem(), seen)

	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if !isSerializableValue(lggr, rv.Index(i), seen) {
				return false
			}
		}

		return true

	case reflect.Map:
		if !isSerializableMapKey(t.Key()) {
			lggr.Debugw("Value is not serializable", "reason", "unsupported map key", "type", t.Key().String())
			return false
		}
		iter := rv.MapRange()
		for iter.Next() {
			if !isSerializableValue(lggr, iter.Value(), seen) {
				return false
			}
		}

		return true

	case reflect.Struct:
		// Break cycles only: the guard tracks types on the current path, not
		// globally, so a second value of an already-seen type is still checked.
		if seen[t] {
			return true
		}
		seen[t] = true
		defer delete(seen, t)
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				lggr.Debugw("Value is not serializable",
					"reason", "unexported struct field", "type", t.String(), "field", field.Name)
				return false
			}
			if !isSerializableValue(lggr, rv.Field(i), seen) {
				return false
			}
		}

		return true

	default:
		// Func, Chan, Complex64, Complex128, Uintptr, UnsafePointer.
		lggr.Debugw("Value is not serializable", "reason", "unsupported kind", "kind", rv.Kind().String())
		return false
	}
}

// implementsJSONRoundTrip reports whether t marshals and unmarshals itself.
func implementsJSONRoundTrip(t reflect.Type) bool {
	marshals := t.Implements(jsonMarshalerType) || reflect.PointerTo(t).Implements(jsonMarshalerType)
	unmarshals := t.Implements(jsonUnmarshalerType) || reflect.PointerTo(t).Implements(jsonUnmarshalerType)

	return marshals && unmarshals
}

func isSerializableMapKey(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	default:
		return t.Implements(textMarshalerType) || reflect.PointerTo(t).Implements(textMarshalerType)
	}
}

// constructUniqueHashFrom returns a hash that uniquely identifies a definition and its input.
// ExecuteOperation and ExecuteSequence use it to find previous executions of the same work.
//
// The hash is computed over a canonical JSON form: the pair is marshalled, unmarshalled into
// generic values and marshalled again so that a typed input and the same input loaded from a
// report on disk (where structs have become map[string]any) produce identical bytes.
// Computed hashes are cached in the Bundle's reportHashCache keyed by the raw serialized pair.
func constructUniqueHashFrom(cache *sync.Map, def Definition, input any) (string, error) {
	raw, err := json.Marshal(struct {
		Def   Definition `json:"def"`
		Input any        `json:"input"`
	}{Def: def, Input: input})
	if err != nil {
		return "", err
	}

	if cached, ok := cache.Load(string(raw)); ok {
		return cached.(string), nil
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)
	hash := hex.EncodeToString(sum[:])
	cache.Store(string(raw), hash)

	return hash, nil
}
