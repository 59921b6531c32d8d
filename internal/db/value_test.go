package db

import "testing"

func TestValueArg(t *testing.T) {
	if NullValue().arg() != nil {
		t.Fatal("null value should produce a nil arg")
	}
	if got := BoolValue(true).arg(); got != true {
		t.Fatalf("bool arg = %v, want true", got)
	}
	if got := NumberValue(3.5).arg(); got != 3.5 {
		t.Fatalf("number arg = %v, want 3.5", got)
	}
	if got := StringValue("x").arg(); got != "x" {
		t.Fatalf("string arg = %v, want x", got)
	}
}

func TestScanToValuePreferenceOrder(t *testing.T) {
	if v := scanToValue(nil); !v.Null {
		t.Fatal("nil should scan to Null")
	}
	if v := scanToValue(true); v.Bool == nil || *v.Bool != true {
		t.Fatalf("bool scan = %+v", v)
	}
	if v := scanToValue(int64(42)); v.Number == nil || *v.Number != 42 {
		t.Fatalf("int64 scan = %+v", v)
	}
	if v := scanToValue(1.5); v.Number == nil || *v.Number != 1.5 {
		t.Fatalf("float64 scan = %+v", v)
	}
	if v := scanToValue("hi"); v.String == nil || *v.String != "hi" {
		t.Fatalf("string scan = %+v", v)
	}
	if v := scanToValue([]byte("blob")); v.String == nil || *v.String != "blob" {
		t.Fatalf("[]byte scan = %+v", v)
	}
}
