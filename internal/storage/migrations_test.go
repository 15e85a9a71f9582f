package storage

import (
	"strings"
	"testing"
)

func TestPendingMigrationsSortedAndFiltered(t *testing.T) {
	all, err := pendingMigrations(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) < 2 {
		t.Fatalf("got %d migrations, want at least 2", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1] >= all[i] {
			t.Errorf("migrations out of order: %v", all)
		}
	}

	rest, err := pendingMigrations(map[string]bool{all[0]: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != len(all)-1 || rest[0] != all[1] {
		t.Errorf("pending after first = %v", rest)
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\n  CREATE INDEX b ON a (x);\n")
	if len(got) != 2 {
		t.Fatalf("got %d statements: %q", len(got), got)
	}
	if !strings.HasPrefix(got[1], "CREATE INDEX") {
		t.Errorf("second statement = %q", got[1])
	}
}

func TestMigrationsCreateAttendanceSchema(t *testing.T) {
	content, err := migrationsFS.ReadFile("migrations/0001_attendance.sql")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"CREATE TABLE IF NOT EXISTS users", "CREATE TABLE IF NOT EXISTS records", "check_out_time TIMESTAMPTZ,"} {
		if !strings.Contains(string(content), want) {
			t.Errorf("migration missing %q", want)
		}
	}
}
