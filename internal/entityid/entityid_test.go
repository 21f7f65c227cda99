package entityid

import "testing"

func TestDanglingSentinel(t *testing.T) {
	if !Dangling.IsDangling() {
		t.Fatal("Dangling.IsDangling() = false, want true")
	}
	if Dangling.Bits != 1<<64-1 {
		t.Errorf("Dangling.Bits = %d, want math.MaxUint64", Dangling.Bits)
	}
}

func TestIsDangling(t *testing.T) {
	if New(7).IsDangling() {
		t.Error("ordinary id reported as dangling")
	}
	if New(0).IsDangling() {
		t.Error("zero id reported as dangling")
	}
}

func TestString(t *testing.T) {
	if got := New(42).String(); got != "42" {
		t.Errorf("String() = %q, want %q", got, "42")
	}
	if got := Dangling.String(); got != "DANGLING" {
		t.Errorf("Dangling.String() = %q, want %q", got, "DANGLING")
	}
}

func TestEquality(t *testing.T) {
	a := New(7)
	b := New(7)
	if a != b {
		t.Error("ids with equal bits should compare equal")
	}
}
