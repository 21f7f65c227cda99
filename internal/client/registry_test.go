package client

import "testing"

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestRegister_RoundTripsBytesToJSON(t *testing.T) {
	r := NewRegistry()
	Register[point](r, "point")

	entry, ok := r.Lookup("point")
	if !ok {
		t.Fatal("expected point to be registered")
	}

	bytes, err := entry.JSONToBytes([]byte(`{"x":3,"y":4}`))
	if err != nil {
		t.Fatalf("JSONToBytes: %v", err)
	}

	json, err := entry.BytesToJSON(bytes)
	if err != nil {
		t.Fatalf("BytesToJSON: %v", err)
	}

	want := `{"x":3,"y":4}`
	if string(json) != want {
		t.Errorf("round trip = %s, want %s", json, want)
	}
}

func TestRegister_IdempotentOnSecondCall(t *testing.T) {
	r := NewRegistry()
	Register[point](r, "point")
	first, _ := r.Lookup("point")

	Register[point](r, "point")
	second, _ := r.Lookup("point")

	if first != second {
		t.Error("re-registering the same short name replaced the existing entry")
	}
}

func TestLookup_UnknownShortNameIsNotFound(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("missing"); ok {
		t.Error("expected Lookup of an unregistered type to fail")
	}
}

func TestBytesToJSON_MalformedBytesErrors(t *testing.T) {
	r := NewRegistry()
	Register[point](r, "point")
	entry, _ := r.Lookup("point")

	if _, err := entry.BytesToJSON([]byte("not msgpack")); err == nil {
		t.Error("expected an error decoding malformed bytes")
	}
}
