package core_test

import (
	"testing"

	"github.com/devcrewhq/crew/internal/core"
)

func TestParseSpecialty(t *testing.T) {
	for _, s := range core.Specialties() {
		got, err := core.ParseSpecialty(string(s))
		if err != nil {
			t.Errorf("ParseSpecialty(%q): %v", s, err)
		}
		if got != s {
			t.Errorf("ParseSpecialty(%q) = %q", s, got)
		}
	}

	if _, err := core.ParseSpecialty("fullstack"); err == nil {
		t.Error("expected error for unknown specialty")
	}
	if _, err := core.ParseSpecialty(""); err == nil {
		t.Error("expected error for empty specialty")
	}
}

func TestSpecialtiesClosedVocabulary(t *testing.T) {
	want := []core.Specialty{"frontend", "backend", "testing", "docs", "infra", "integration"}
	got := core.Specialties()
	if len(got) != len(want) {
		t.Fatalf("got %d specialties, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("specialty[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
