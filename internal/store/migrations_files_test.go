package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMigrationsFromRepo(t *testing.T) {
	migrations, err := LoadMigrations(filepath.Join("..", "..", "db", "migrations"))
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no migrations discovered")
	}
	for i, m := range migrations {
		if i > 0 && migrations[i-1].Version >= m.Version {
			t.Fatalf("migrations out of order: %s before %s", migrations[i-1].Version, m.Version)
		}
	}
	if !strings.Contains(migrations[0].Up, "CREATE TABLE") {
		t.Errorf("first migration should create tables, got %q", migrations[0].Up)
	}
}

func TestLoadMigrationsRejectsBadSets(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{
			name:  "missing down",
			files: map[string]string{"0001_init.up.sql": "CREATE TABLE a (id int);"},
		},
		{
			name: "conflicting names",
			files: map[string]string{
				"0001_init.up.sql":    "CREATE TABLE a (id int);",
				"0001_other.down.sql": "DROP TABLE a;",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, body := range tt.files {
				if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			if _, err := LoadMigrations(dir); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadMigrationsIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"0002_comments.up.sql":   "CREATE TABLE c (id int);",
		"0002_comments.down.sql": "DROP TABLE c;",
		"0001_init.up.sql":       "CREATE TABLE a (id int);",
		"0001_init.down.sql":     "DROP TABLE a;",
		"README.md":              "notes",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	migrations, err := LoadMigrations(dir)
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 || migrations[0].Name != "init" || migrations[1].Name != "comments" {
		t.Fatalf("unexpected migrations %+v", migrations)
	}
	if migrations[1].Down != "DROP TABLE c;" {
		t.Errorf("unexpected down body %q", migrations[1].Down)
	}
}
