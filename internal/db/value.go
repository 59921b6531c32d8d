package db

// Value is the typed RPC value model every execute/query/transaction
// operation speaks: exactly one of Null, Bool, Number, or String is
// meaningful, mirroring the untagged enum the wire layer uses.
type Value struct {
	Null   bool
	Bool   *bool
	Number *float64
	String *string
}

// NullValue returns the null variant.
func NullValue() Value { return Value{Null: true} }

// BoolValue wraps b.
func BoolValue(b bool) Value { return Value{Bool: &b} }

// NumberValue wraps n.
func NumberValue(n float64) Value { return Value{Number: &n} }

// StringValue wraps s.
func StringValue(s string) Value { return Value{String: &s} }

// arg converts v to the driver-native argument database/sql expects.
func (v Value) arg() any {
	switch {
	case v.Bool != nil:
		return *v.Bool
	case v.Number != nil:
		return *v.Number
	case v.String != nil:
		return *v.String
	default:
		return nil
	}
}

// scanToValue converts a database/sql scan target back into a Value,
// trying bool, then int64 (widened to float64), then float64, then
// string (including []byte), falling back to Null — the same
// preference order the typed query surface documents.
func scanToValue(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return NullValue()
	case bool:
		return BoolValue(v)
	case int64:
		return NumberValue(float64(v))
	case float64:
		return NumberValue(v)
	case string:
		return StringValue(v)
	case []byte:
		return StringValue(string(v))
	default:
		return NullValue()
	}
}
