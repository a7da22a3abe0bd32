package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"archcore/pkg/metamodel"
)

// PropertyKind tags the variant held by a PropertyValue.
type PropertyKind string

// Supported property kinds.
const (
	KindString  PropertyKind = "string"
	KindNumber  PropertyKind = "number"
	KindBoolean PropertyKind = "boolean"
	KindDate    PropertyKind = "date"
	KindEnum    PropertyKind = "enum"
	KindRaw     PropertyKind = "raw"
)

// PropertyValue is a tagged union over the value kinds an element or relation
// property may hold. Raw carries arbitrary JSON (objects, arrays, null) for
// extension data that has no schema.
type PropertyValue struct {
	kind PropertyKind
	str  string
	num  float64
	b    bool
	at   time.Time
	raw  json.RawMessage
}

// StringValue wraps a plain string.
func StringValue(s string) PropertyValue { return PropertyValue{kind: KindString, str: s} }

// NumberValue wraps a number.
func NumberValue(n float64) PropertyValue { return PropertyValue{kind: KindNumber, num: n} }

// BoolValue wraps a boolean.
func BoolValue(b bool) PropertyValue { return PropertyValue{kind: KindBoolean, b: b} }

// DateValue wraps a timestamp, normalised to UTC.
func DateValue(t time.Time) PropertyValue { return PropertyValue{kind: KindDate, at: t.UTC()} }

// EnumValue wraps a value drawn from a schema enumeration.
func EnumValue(s string) PropertyValue { return PropertyValue{kind: KindEnum, str: s} }

// RawValue wraps arbitrary JSON. Empty input is stored as null.
func RawValue(raw json.RawMessage) PropertyValue {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("null")
	}
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	return PropertyValue{kind: KindRaw, raw: cp}
}

// Kind returns the variant tag. The zero value reports KindString.
func (v PropertyValue) Kind() PropertyKind {
	if v.kind == "" {
		return KindString
	}
	return v.kind
}

// String returns the textual form of the value.
func (v PropertyValue) String() string {
	switch v.Kind() {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindDate:
		return v.at.Format(time.RFC3339Nano)
	case KindRaw:
		return string(v.raw)
	default:
		return v.str
	}
}

// Number returns the numeric payload and whether the value is a number.
func (v PropertyValue) Number() (float64, bool) { return v.num, v.Kind() == KindNumber }

// Bool returns the boolean payload and whether the value is a boolean.
func (v PropertyValue) Bool() (bool, bool) { return v.b, v.Kind() == KindBoolean }

// Time returns the timestamp payload and whether the value is a date.
func (v PropertyValue) Time() (time.Time, bool) { return v.at, v.Kind() == KindDate }

// Raw returns a copy of the JSON payload of a raw value.
func (v PropertyValue) Raw() json.RawMessage {
	if v.Kind() != KindRaw {
		return nil
	}
	cp := make(json.RawMessage, len(v.raw))
	copy(cp, v.raw)
	return cp
}

// MarshalJSON emits the untagged JSON form. Dates and enums encode as
// strings, so they decode as KindString until a PropertySchema coerces them
// again. NaN and the infinities have no JSON number form and encode as the
// strings "NaN", "+Inf" and "-Inf", which a number schema parses back.
func (v PropertyValue) MarshalJSON() ([]byte, error) {
	switch v.Kind() {
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return json.Marshal(strconv.FormatFloat(v.num, 'g', -1, 64))
		}
		return json.Marshal(v.num)
	case KindBoolean:
		return json.Marshal(v.b)
	case KindDate:
		return json.Marshal(v.at.Format(time.RFC3339Nano))
	case KindRaw:
		if len(v.raw) == 0 {
			return []byte("null"), nil
		}
		return v.raw, nil
	default:
		return json.Marshal(v.str)
	}
}

// UnmarshalJSON infers the kind from the JSON token: strings, numbers and
// booleans map to their kinds, anything else is kept raw.
func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("empty property value")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case '{', '[', 'n':
		*v = RawValue(trimmed)
	default:
		var n float64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return err
		}
		*v = NumberValue(n)
	}
	return nil
}

// Equal reports whether two values carry the same kind and payload.
func (v PropertyValue) Equal(other PropertyValue) bool {
	if v.Kind() != other.Kind() {
		return false
	}
	switch v.Kind() {
	case KindNumber:
		return v.num == other.num
	case KindBoolean:
		return v.b == other.b
	case KindDate:
		return v.at.Equal(other.at)
	case KindRaw:
		return bytes.Equal(v.raw, other.raw)
	default:
		return v.str == other.str
	}
}

// Properties is the property bag carried by elements and relations.
type Properties map[string]PropertyValue

// Clone returns a deep copy of the bag. A nil bag clones to an empty one.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		if v.Kind() == KindRaw {
			v = RawValue(v.raw)
		}
		out[k] = v
	}
	return out
}

// Keys returns the property names in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AttributeDef describes one attribute of a PropertySchema.
type AttributeDef struct {
	Kind       PropertyKind `json:"kind"`
	EnumValues []string     `json:"enumValues,omitempty"`
	Required   bool         `json:"required,omitempty"`
}

// PropertySchema constrains the property bag of one element type.
type PropertySchema struct {
	ElementType metamodel.ElementType   `json:"elementType"`
	Attributes  map[string]AttributeDef `json:"attributes"`
}

// PropertyError reports a single attribute that failed schema validation.
type PropertyError struct {
	Attribute string
	Reason    string
}

func (e PropertyError) Error() string {
	return fmt.Sprintf("property %q: %s", e.Attribute, e.Reason)
}

// Validate checks props against the schema and returns a copy with values
// coerced to the declared kinds. Attributes absent from the schema pass
// through unchanged. All failures are reported together.
func (s PropertySchema) Validate(props Properties) (Properties, error) {
	out := props.Clone()
	var errs []error
	names := make([]string, 0, len(s.Attributes))
	for name := range s.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := s.Attributes[name]
		value, ok := out[name]
		if !ok {
			if def.Required {
				errs = append(errs, PropertyError{Attribute: name, Reason: "required"})
			}
			continue
		}
		coerced, err := coerce(value, def)
		if err != nil {
			errs = append(errs, PropertyError{Attribute: name, Reason: err.Error()})
			continue
		}
		out[name] = coerced
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func coerce(value PropertyValue, def AttributeDef) (PropertyValue, error) {
	switch def.Kind {
	case KindString:
		switch value.Kind() {
		case KindString, KindEnum:
			return StringValue(value.str), nil
		}
	case KindNumber:
		switch value.Kind() {
		case KindNumber:
			return value, nil
		case KindString:
			n, err := strconv.ParseFloat(value.str, 64)
			if err == nil {
				return NumberValue(n), nil
			}
		}
	case KindBoolean:
		switch value.Kind() {
		case KindBoolean:
			return value, nil
		case KindString:
			b, err := strconv.ParseBool(value.str)
			if err == nil {
				return BoolValue(b), nil
			}
		}
	case KindDate:
		switch value.Kind() {
		case KindDate:
			return value, nil
		case KindString:
			t, err := time.Parse(time.RFC3339Nano, value.str)
			if err != nil {
				return PropertyValue{}, fmt.Errorf("invalid date %q", value.str)
			}
			return DateValue(t), nil
		}
	case KindEnum:
		switch value.Kind() {
		case KindString, KindEnum:
			for _, allowed := range def.EnumValues {
				if allowed == value.str {
					return EnumValue(value.str), nil
				}
			}
			return PropertyValue{}, fmt.Errorf("value %q not in %v", value.str, def.EnumValues)
		}
	case KindRaw, "":
		return value, nil
	default:
		return PropertyValue{}, fmt.Errorf("unknown kind %q", def.Kind)
	}
	return PropertyValue{}, fmt.Errorf("expected %s, got %s", def.Kind, value.Kind())
}
