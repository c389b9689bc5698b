package db

import (
	"io/fs"
	"testing"
)

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/app?sslmode=disable": "pgx5://u:p@localhost:5432/app?sslmode=disable",
		"postgresql://localhost/app":                        "pgx5://localhost/app",
		"pgx5://localhost/app":                              "pgx5://localhost/app",
	}
	for in, want := range cases {
		if got := migrateURL(in); got != want {
			t.Fatalf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(ups) == 0 || len(ups) != len(downs) {
		t.Fatalf("expected paired migrations, got %d up and %d down", len(ups), len(downs))
	}
}
