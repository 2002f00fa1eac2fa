package delegation

import (
	"errors"
	"testing"
)

func TestAllKindsRendersEmpty(t *testing.T) {
	f := AllKinds()
	if got := f.String(); got != "" {
		t.Fatalf("expected empty clause, got %q", got)
	}
	f.Add(1)
	if got := f.String(); got != "" {
		t.Fatalf("add on an unrestricted filter must be a no-op, got %q", got)
	}
	if !f.Contains(12345) {
		t.Fatalf("unrestricted filter must contain every kind")
	}
}

func TestSomeKindsRangeCompression(t *testing.T) {
	f := SomeKinds()
	steps := []struct {
		add  uint32
		want string
	}{
		{1, "k=1"},
		{42, "k=1,42"},
		{0, "k=0-1,42"},
		{3, "k=0-1,3,42"},
		{2, "k=0-3,42"},
		{41, "k=0-3,41-42"},
		{666, "k=0-3,41-42,666"},
		{667, "k=0-3,41-42,666-667"},
		{668, "k=0-3,41-42,666-668"},
	}
	if got := f.String(); got != "k=0&k=1" {
		t.Fatalf("empty restricted filter must be unsatisfiable, got %q", got)
	}
	for _, step := range steps {
		f.Add(step.add)
		if got := f.String(); got != step.want {
			t.Fatalf("after adding %d: got %q, want %q", step.add, got, step.want)
		}
	}
}

func TestSomeKindsContains(t *testing.T) {
	f := SomeKinds(1, 3)
	if !f.Contains(1) || !f.Contains(3) {
		t.Fatalf("expected listed kinds to match")
	}
	if f.Contains(2) {
		t.Fatalf("unlisted kind must not match")
	}
	if got := f.String(); got != "k=1,3" {
		t.Fatalf("got %q, want %q", got, "k=1,3")
	}
}

func TestParseKindFilterRoundtrip(t *testing.T) {
	for _, in := range []string{"", "k=1", "k=1,3", "k=0-3,41-42", "k=0&k=1"} {
		f, err := ParseKindFilter(in)
		if err != nil {
			t.Fatalf("parse %q failed: %v", in, err)
		}
		if got := f.String(); got != in {
			t.Fatalf("roundtrip %q: got %q", in, got)
		}
	}
}

func TestParseKindFilterRejectsGarbage(t *testing.T) {
	// "&" joins clauses conjunctively in a conditions string, so a
	// repeated k clause is not a union and must not parse as one.
	for _, in := range []string{"kinds=1", "k=", "k=a", "k=3-1", "k=1,,2", "x", "k=1&k=2&k=3"} {
		if _, err := ParseKindFilter(in); !errors.Is(err, ErrInvalidKindFilter) {
			t.Fatalf("parse %q: expected ErrInvalidKindFilter, got %v", in, err)
		}
	}
}
