package main

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	appmigrations "github.com/wolfman30/emma-intake/migrations"
)

type fakeMigrator struct {
	calls   []string
	steps   int
	forced  int
	upErr   error
	version uint
	verErr  error
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	return f.upErr
}

func (f *fakeMigrator) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	f.steps = n
	return nil
}

func (f *fakeMigrator) Force(v int) error {
	f.calls = append(f.calls, "force")
	f.forced = v
	return nil
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	f.calls = append(f.calls, "version")
	return f.version, false, f.verErr
}

func TestRunCommands(t *testing.T) {
	m := &fakeMigrator{upErr: migrate.ErrNoChange}
	if err := run(m, nil); err != nil {
		t.Fatalf("up with no change should succeed: %v", err)
	}

	if err := run(m, []string{"down", "2"}); err != nil || m.steps != -2 {
		t.Fatalf("expected two steps down, got %d (%v)", m.steps, err)
	}
	if err := run(m, []string{"force", "3"}); err != nil || m.forced != 3 {
		t.Fatalf("expected forced version 3, got %d (%v)", m.forced, err)
	}
	m.verErr = migrate.ErrNilVersion
	if err := run(m, []string{"version"}); err != nil {
		t.Fatalf("nil version should not fail: %v", err)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	for _, args := range [][]string{
		{"down", "zero"},
		{"down", "0"},
		{"force"},
		{"force", "x"},
		{"sideways"},
	} {
		if err := run(&fakeMigrator{}, args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}

	if err := run(&fakeMigrator{upErr: errors.New("dirty database")}, []string{"up"}); err == nil {
		t.Fatalf("expected up failure to surface")
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	src, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		t.Fatalf("open embedded migrations: %v", err)
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		t.Fatalf("first migration: %v", err)
	}
	count := 0
	for {
		count++
		up, _, err := src.ReadUp(version)
		if err != nil {
			t.Fatalf("missing up migration for %d: %v", version, err)
		}
		_ = up.Close()
		down, _, err := src.ReadDown(version)
		if err != nil {
			t.Fatalf("missing down migration for %d: %v", version, err)
		}
		_ = down.Close()

		next, err := src.Next(version)
		if err != nil {
			break
		}
		version = next
	}
	if count != 3 {
		t.Fatalf("expected 3 migrations, got %d", count)
	}
}
