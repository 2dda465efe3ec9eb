package core

import "fmt"

// Specialty names the kind of worker that should execute a task.
type Specialty string

const (
	SpecialtyFrontend    Specialty = "frontend"
	SpecialtyBackend     Specialty = "backend"
	SpecialtyTesting     Specialty = "testing"
	SpecialtyDocs        Specialty = "docs"
	SpecialtyInfra       Specialty = "infra"
	SpecialtyIntegration Specialty = "integration"
)

// Specialties lists the closed vocabulary in canonical order.
func Specialties() []Specialty {
	return []Specialty{
		SpecialtyFrontend,
		SpecialtyBackend,
		SpecialtyTesting,
		SpecialtyDocs,
		SpecialtyInfra,
		SpecialtyIntegration,
	}
}

// ParseSpecialty validates a raw specialty tag.
func ParseSpecialty(s string) (Specialty, error) {
	sp := Specialty(s)
	if !sp.Valid() {
		return "", ErrValidation("INVALID_SPECIALTY", fmt.Sprintf("unknown specialty %q", s))
	}
	return sp, nil
}

// Valid reports whether the specialty belongs to the closed vocabulary.
func (s Specialty) Valid() bool {
	switch s {
	case SpecialtyFrontend, SpecialtyBackend, SpecialtyTesting,
		SpecialtyDocs, SpecialtyInfra, SpecialtyIntegration:
		return true
	}
	return false
}

func (s Specialty) String() string { return string(s) }
