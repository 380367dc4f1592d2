// File: internal/bidi/serialize.go
package bidi

import (
	"bytes"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strings"
	"time"

	json "github.com/json-iterator/go"
)

// dateLayout is the ISO-8601 form the remote end produces for Date values.
const dateLayout = "2006-01-02T15:04:05.000Z07:00"

// -- Value types without a native Go counterpart --

// Null serializes to the remote null value. A nil interface serializes to undefined.
type Null struct{}

// RegExpFlags is the flag bit set of a RegExp.
type RegExpFlags uint8

const (
	FlagHasIndices RegExpFlags = 1 << iota
	FlagGlobal
	FlagIgnoreCase
	FlagMultiline
	FlagDotAll
	FlagUnicode
	FlagUnicodeSets
	FlagSticky
)

// regexpFlagChars lists the flag characters in canonical order, matching the bit order above.
const regexpFlagChars = "dgimsuvy"

// ParseRegExpFlags reconstructs flag bits from their characters. Unknown characters are ignored.
func ParseRegExpFlags(flags string) RegExpFlags {
	var out RegExpFlags
	for _, c := range flags {
		if i := strings.IndexRune(regexpFlagChars, c); i >= 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

// String renders the flags in canonical order.
func (f RegExpFlags) String() string {
	var b strings.Builder
	for i := 0; i < len(regexpFlagChars); i++ {
		if f&(1<<uint(i)) != 0 {
			b.WriteByte(regexpFlagChars[i])
		}
	}
	return b.String()
}

// RegExp is a remote pattern object.
type RegExp struct {
	Pattern string
	Flags   RegExpFlags
}

// Set is a collection of unique values in insertion order.
type Set []interface{}

// Add appends v unless an equal value is already present.
func (s Set) Add(v interface{}) Set {
	for _, existing := range s {
		if reflect.DeepEqual(existing, v) {
			return s
		}
	}
	return append(s, v)
}

// MapEntry is one key/value pair of a Map.
type MapEntry struct {
	Key   interface{}
	Value interface{}
}

// Map is an ordered key/value collection whose keys need not be strings.
type Map []MapEntry

// Get returns the value stored under key.
func (m Map) Get(key interface{}) (interface{}, bool) {
	for _, e := range m {
		if reflect.DeepEqual(e.Key, key) {
			return e.Value, true
		}
	}
	return nil, false
}

// MarshalJSON renders the map as a JSON object, formatting non-string keys with fmt.
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, ok := e.Key.(string)
		if !ok {
			key = fmt.Sprint(e.Key)
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// -- Wire shapes --

// LocalValue is a client to remote structured value.
type LocalValue struct {
	Type   string
	Value  interface{}
	Handle string
}

// MarshalJSON emits {"handle": id} for handles and {"type", "value"} otherwise,
// leaving value out entirely when the category carries none.
func (v LocalValue) MarshalJSON() ([]byte, error) {
	if v.Handle != "" {
		return json.Marshal(map[string]string{"handle": v.Handle})
	}
	out := map[string]interface{}{"type": v.Type}
	if v.Value != nil {
		out["value"] = v.Value
	}
	return json.Marshal(out)
}

// RemoteValue is a remote to client structured value.
type RemoteValue struct {
	Type       string          `json:"type"`
	Value      json.RawMessage `json:"value,omitempty"`
	Handle     string          `json:"handle,omitempty"`
	InternalID string          `json:"internalId,omitempty"`
	SharedID   string          `json:"sharedId,omitempty"`
}

type regexpValue struct {
	Pattern string `json:"pattern"`
	Flags   string `json:"flags,omitempty"`
}

// -- Serialization --

// Serialize converts a Go value into its local value wire shape.
//
// nil becomes undefined, Null becomes null, Handle becomes a handle reference, slices become
// arrays, string keyed maps become objects with sorted keys, Map and Set keep their remote
// categories, time.Time becomes an ISO date, RegExp a pattern, *big.Int a bigint, and numbers
// use the special string forms for NaN, infinities and negative zero.
//
// Every Go integer and float kind is sent as a JavaScript number, so Deserialize returns it
// as float64. Integers beyond 2^53 lose precision; pass *big.Int for those.
func Serialize(v interface{}) (LocalValue, error) {
	switch val := v.(type) {
	case nil:
		return LocalValue{Type: "undefined"}, nil
	case LocalValue:
		return val, nil
	case Null:
		return LocalValue{Type: "null"}, nil
	case Handle:
		return LocalValue{Handle: val.ID}, nil
	case *Handle:
		if val == nil {
			return LocalValue{Type: "undefined"}, nil
		}
		return LocalValue{Handle: val.ID}, nil
	case bool:
		return LocalValue{Type: "boolean", Value: val}, nil
	case string:
		return LocalValue{Type: "string", Value: val}, nil
	case int:
		return LocalValue{Type: "number", Value: int64(val)}, nil
	case int8:
		return LocalValue{Type: "number", Value: int64(val)}, nil
	case int16:
		return LocalValue{Type: "number", Value: int64(val)}, nil
	case int32:
		return LocalValue{Type: "number", Value: int64(val)}, nil
	case int64:
		return LocalValue{Type: "number", Value: val}, nil
	case uint:
		return LocalValue{Type: "number", Value: uint64(val)}, nil
	case uint8:
		return LocalValue{Type: "number", Value: uint64(val)}, nil
	case uint16:
		return LocalValue{Type: "number", Value: uint64(val)}, nil
	case uint32:
		return LocalValue{Type: "number", Value: uint64(val)}, nil
	case uint64:
		return LocalValue{Type: "number", Value: val}, nil
	case float32:
		return numberValue(float64(val)), nil
	case float64:
		return numberValue(val), nil
	case *big.Int:
		if val == nil {
			return LocalValue{Type: "undefined"}, nil
		}
		return LocalValue{Type: "bigint", Value: val.String()}, nil
	case time.Time:
		return LocalValue{Type: "date", Value: val.UTC().Format(dateLayout)}, nil
	case RegExp:
		return LocalValue{Type: "regexp", Value: regexpValue{Pattern: val.Pattern, Flags: val.Flags.String()}}, nil
	case *RegExp:
		if val == nil {
			return LocalValue{Type: "undefined"}, nil
		}
		return Serialize(*val)
	case Set:
		items, err := serializeList(val)
		if err != nil {
			return LocalValue{}, err
		}
		return LocalValue{Type: "set", Value: items}, nil
	case Map:
		pairs := make([][2]LocalValue, 0, len(val))
		for _, e := range val {
			k, err := Serialize(e.Key)
			if err != nil {
				return LocalValue{}, err
			}
			ev, err := Serialize(e.Value)
			if err != nil {
				return LocalValue{}, err
			}
			pairs = append(pairs, [2]LocalValue{k, ev})
		}
		return LocalValue{Type: "map", Value: pairs}, nil
	}
	return serializeReflect(v)
}

func serializeReflect(v interface{}) (LocalValue, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return LocalValue{Type: "undefined"}, nil
		}
		return Serialize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return LocalValue{Type: "array", Value: []LocalValue{}}, nil
		}
		items := make([]interface{}, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		list, err := serializeList(items)
		if err != nil {
			return LocalValue{}, err
		}
		return LocalValue{Type: "array", Value: list}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return LocalValue{}, &UnsupportedValueError{Value: v}
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		pairs := make([][2]LocalValue, 0, len(keys))
		for _, k := range keys {
			ev, err := Serialize(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
			if err != nil {
				return LocalValue{}, err
			}
			pairs = append(pairs, [2]LocalValue{{Type: "string", Value: k}, ev})
		}
		return LocalValue{Type: "object", Value: pairs}, nil
	}
	return LocalValue{}, &UnsupportedValueError{Value: v}
}

func serializeList(items []interface{}) ([]LocalValue, error) {
	out := make([]LocalValue, 0, len(items))
	for i, item := range items {
		lv, err := Serialize(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out = append(out, lv)
	}
	return out, nil
}

func numberValue(f float64) LocalValue {
	switch {
	case math.IsNaN(f):
		return LocalValue{Type: "number", Value: "NaN"}
	case math.IsInf(f, 1):
		return LocalValue{Type: "number", Value: "Infinity"}
	case math.IsInf(f, -1):
		return LocalValue{Type: "number", Value: "-Infinity"}
	case f == 0 && math.Signbit(f):
		return LocalValue{Type: "number", Value: "-0"}
	}
	return LocalValue{Type: "number", Value: f}
}

// -- Deserialization --

// placeholderTypes cannot be represented client side and deserialize to an empty object.
var placeholderTypes = map[string]bool{
	"promise":        true,
	"function":       true,
	"node":           true,
	"window":         true,
	"symbol":         true,
	"weakmap":        true,
	"weakset":        true,
	"generator":      true,
	"error":          true,
	"proxy":          true,
	"typedarray":     true,
	"arraybuffer":    true,
	"nodelist":       true,
	"htmlcollection": true,
}

// Deserialize decodes one remote value.
//
// Numbers always become float64, whatever Go kind was serialized. Bigint becomes *big.Int,
// dates time.Time, objects map[string]interface{}, maps Map, sets Set, arrays []interface{},
// patterns RegExp; null and undefined become nil.
// An unrecognized type tag is an *UnknownTypeError.
func Deserialize(raw json.RawMessage) (interface{}, error) {
	var rv RemoteValue
	if err := json.Unmarshal(raw, &rv); err != nil {
		return nil, fmt.Errorf("bidi: malformed remote value: %w", err)
	}
	return DeserializeValue(rv)
}

// DeserializeValue decodes an already parsed remote value.
func DeserializeValue(rv RemoteValue) (interface{}, error) {
	if placeholderTypes[rv.Type] {
		return map[string]interface{}{}, nil
	}

	switch rv.Type {
	case "undefined", "null":
		return nil, nil
	case "string":
		var s string
		err := unmarshalValue(rv, &s)
		return s, err
	case "boolean":
		var b bool
		err := unmarshalValue(rv, &b)
		return b, err
	case "number":
		return deserializeNumber(rv.Value)
	case "bigint":
		var s string
		if err := unmarshalValue(rv, &s); err != nil {
			return nil, err
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("bidi: invalid bigint %q", s)
		}
		return n, nil
	case "date":
		var s string
		if err := unmarshalValue(rv, &s); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("bidi: invalid date %q: %w", s, err)
		}
		return t, nil
	case "regexp":
		var re regexpValue
		if err := unmarshalValue(rv, &re); err != nil {
			return nil, err
		}
		return RegExp{Pattern: re.Pattern, Flags: ParseRegExpFlags(re.Flags)}, nil
	case "array":
		items, err := deserializeList(rv.Value)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []interface{}{}
		}
		return items, nil
	case "set":
		items, err := deserializeList(rv.Value)
		if err != nil {
			return nil, err
		}
		set := Set{}
		for _, item := range items {
			set = set.Add(item)
		}
		return set, nil
	case "object":
		pairs, err := deserializePairs(rv.Value)
		if err != nil {
			return nil, err
		}
		obj := make(map[string]interface{}, len(pairs))
		for _, p := range pairs {
			key, ok := p.Key.(string)
			if !ok {
				key = fmt.Sprint(p.Key)
			}
			obj[key] = p.Value
		}
		return obj, nil
	case "map":
		pairs, err := deserializePairs(rv.Value)
		if err != nil {
			return nil, err
		}
		if pairs == nil {
			return Map{}, nil
		}
		return Map(pairs), nil
	}
	return nil, &UnknownTypeError{Type: rv.Type}
}

func unmarshalValue(rv RemoteValue, out interface{}) error {
	if len(rv.Value) == 0 {
		return fmt.Errorf("bidi: %s value is missing its payload", rv.Type)
	}
	if err := json.Unmarshal(rv.Value, out); err != nil {
		return fmt.Errorf("bidi: malformed %s value: %w", rv.Type, err)
	}
	return nil
}

func deserializeNumber(raw json.RawMessage) (interface{}, error) {
	var special string
	if err := json.Unmarshal(raw, &special); err == nil {
		switch special {
		case "NaN":
			return math.NaN(), nil
		case "-0":
			return math.Copysign(0, -1), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return nil, fmt.Errorf("bidi: invalid special number %q", special)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("bidi: malformed number value: %w", err)
	}
	return f, nil
}

func deserializeList(raw json.RawMessage) ([]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var items []RemoteValue
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("bidi: malformed list value: %w", err)
	}
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		v, err := DeserializeValue(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// deserializePairs decodes [[key, value], ...] where a key is either a plain string or a remote value.
func deserializePairs(raw json.RawMessage) ([]MapEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var tuples [][]json.RawMessage
	if err := json.Unmarshal(raw, &tuples); err != nil {
		return nil, fmt.Errorf("bidi: malformed key/value list: %w", err)
	}
	out := make([]MapEntry, 0, len(tuples))
	for _, tuple := range tuples {
		if len(tuple) != 2 {
			return nil, fmt.Errorf("bidi: key/value entry has %d elements", len(tuple))
		}
		key, err := deserializeKey(tuple[0])
		if err != nil {
			return nil, err
		}
		value, err := Deserialize(tuple[1])
		if err != nil {
			return nil, err
		}
		out = append(out, MapEntry{Key: key, Value: value})
	}
	return out, nil
}

func deserializeKey(raw json.RawMessage) (interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("bidi: malformed key: %w", err)
		}
		return s, nil
	}
	return Deserialize(raw)
}
