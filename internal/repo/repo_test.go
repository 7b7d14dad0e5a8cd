package repo

import (
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestNewFailureID(t *testing.T) {
	re := regexp.MustCompile(`^fail-[0-9a-f]{8}$`)
	seen := make(map[string]bool)

	for i := 0; i < 100; i++ {
		id := NewFailureID()
		if !re.MatchString(id) {
			t.Fatalf("unexpected id format: %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = true
	}
}

func TestFolderPath(t *testing.T) {
	tests := []struct {
		name, parent, expected string
		wantErr                bool
	}{
		{"Code Review", "", "code-review", false},
		{"Go", "code-review", "code-review/go", false},
		{"  ", "", "", true},
	}

	for _, tt := range tests {
		got, err := folderPath(tt.name, tt.parent)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidName) {
				t.Errorf("folderPath(%q) expected ErrInvalidName, got %v", tt.name, err)
			}
			continue
		}
		if err != nil || got != tt.expected {
			t.Errorf("folderPath(%q, %q) = %q, %v; want %q", tt.name, tt.parent, got, err, tt.expected)
		}
	}
}

func TestParentOf(t *testing.T) {
	if got := parentOf("a/b/c"); got != "a/b" {
		t.Errorf("parentOf = %q", got)
	}
	if got := parentOf("a"); got != "" {
		t.Errorf("parentOf = %q", got)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`100%_done\`); got != `100\%\_done\\` {
		t.Errorf("escapeLike = %q", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("expected unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not unique violation")
	}
	if isUniqueViolation(nil) || isUniqueViolation(errors.New("x")) {
		t.Error("plain errors are not unique violations")
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected up and down migration, got %d files", len(entries))
	}
}
