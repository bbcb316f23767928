package store

import (
	"testing"
	"testing/fstest"
)

func TestLoadMigrations_Embedded(t *testing.T) {
	ms, err := loadMigrations(migrationFiles)
	if err != nil {
		t.Fatalf("loadMigrations() err = %v", err)
	}
	if len(ms) == 0 || ms[0].version != "001_tasks" {
		t.Fatalf("loadMigrations() = %+v, want 001_tasks first", ms)
	}
}

func TestLoadMigrations_OrderAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_index.sql": {Data: []byte("CREATE INDEX x ON tasks (owner);")},
		"migrations/001_tasks.sql": {Data: []byte("CREATE TABLE tasks ();")},
		"migrations/003_empty.sql": {Data: []byte("   \n")},
		"migrations/README.md":     {Data: []byte("notes")},
	}
	ms, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations() err = %v", err)
	}
	if len(ms) != 2 || ms[0].version != "001_tasks" || ms[1].version != "002_index" {
		t.Fatalf("loadMigrations() = %+v", ms)
	}
}
