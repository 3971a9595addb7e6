package domain

import (
	"regexp"
	"testing"
)

var projectIDPattern = regexp.MustCompile(`^[a-z]+-[a-z]+-[a-z0-9]{4}$`)

func TestGenerateProjectID(t *testing.T) {
	t.Parallel()

	for i := 0; i < 100; i++ {
		id, err := GenerateProjectID()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}

		if !projectIDPattern.MatchString(id) {
			t.Fatalf("Generated ID %q does not match adjective-animal-suffix form", id)
		}
	}
}

func TestGenerateProjectIDVaries(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := GenerateProjectID()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		seen[id] = true
	}

	// 50 draws from the ID space colliding down to a handful would mean
	// the generator is broken.
	if len(seen) < 40 {
		t.Errorf("Expected variety in generated IDs, got %d distinct of 50", len(seen))
	}
}
