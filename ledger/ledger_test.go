package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func sampleMapping(t *testing.T) *Mapping {
	t.Helper()
	m := NewMapping()
	for _, e := range []Entry{
		{StoredName: "Q1 - report.pdf", MessageID: "m1", ContentHash: "h1", Subject: "Q1"},
		{StoredName: "Q2 - report.pdf", MessageID: "m2", ContentHash: "h2", Subject: "Q2"},
	} {
		if err := m.Add(e); err != nil {
			t.Fatalf("Add(%s) error = %v", e.StoredName, err)
		}
	}
	return m
}

func TestMapping(t *testing.T) {
	m := sampleMapping(t)

	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}

	entry, ok := m.Get("Q2 - report.pdf")
	if !ok || entry.MessageID != "m2" {
		t.Errorf("Get() = %+v, %v", entry, ok)
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("Get() found an entry that was never added")
	}

	entries := m.Entries()
	if entries[0].StoredName != "Q1 - report.pdf" || entries[1].StoredName != "Q2 - report.pdf" {
		t.Errorf("Entries() not in write order: %+v", entries)
	}

	entries[0].MessageID = "changed"
	if e, _ := m.Get("Q1 - report.pdf"); e.MessageID != "m1" {
		t.Error("Entries() must return a copy")
	}
}

func TestMapping_RejectsDuplicates(t *testing.T) {
	m := sampleMapping(t)

	err := m.Add(Entry{StoredName: "Q1 - report.pdf", MessageID: "m3"})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("Add() duplicate error = %v, want ErrDuplicateName", err)
	}
	if err := m.Add(Entry{MessageID: "m4"}); err == nil {
		t.Error("Add() without stored name should fail")
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d after rejected adds, want 2", m.Len())
	}
}

func TestJSONL_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.jsonl")
	m := sampleMapping(t)

	if err := AppendJSONL(path, "run-1", m); err != nil {
		t.Fatalf("AppendJSONL() error = %v", err)
	}
	if err := AppendJSONL(path, "run-2", sampleMapping(t)); err != nil {
		t.Fatalf("AppendJSONL() error = %v", err)
	}

	all, err := ReadJSONL(path, "")
	if err != nil {
		t.Fatalf("ReadJSONL() error = %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("ReadJSONL() returned %d entries, want 4", len(all))
	}

	first, err := ReadJSONL(path, "run-1")
	if err != nil {
		t.Fatalf("ReadJSONL() error = %v", err)
	}
	if !reflect.DeepEqual(first, m.Entries()) {
		t.Errorf("ReadJSONL(run-1) = %+v, want %+v", first, m.Entries())
	}
}

func TestReadJSONL_Errors(t *testing.T) {
	entries, err := ReadJSONL(filepath.Join(t.TempDir(), "missing.jsonl"), "")
	if err != nil || entries != nil {
		t.Errorf("missing file = %v, %v; want nil, nil", entries, err)
	}

	path := filepath.Join(t.TempDir(), "broken.jsonl")
	if err := os.WriteFile(path, []byte("{\"stored_name\":\"a\"}\nnot json\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadJSONL(path, ""); err == nil {
		t.Error("expected parse error for corrupt line")
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

func TestSQLiteStore_SaveRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := sampleMapping(t)

	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	run := Run{
		ID:          "run-1",
		Destination: "/tmp/attachments",
		Source:      "imap://mail.example.com/INBOX",
		StartedAt:   started,
		FinishedAt:  started.Add(time.Minute),
		Written:     m.Len(),
	}
	if err := s.SaveRun(ctx, run, m); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	later := run
	later.ID = "run-2"
	later.StartedAt = started.Add(time.Hour)
	later.FinishedAt = later.StartedAt
	later.Written = 1
	single := NewMapping()
	if err := single.Add(Entry{StoredName: "Q1 - report.pdf", MessageID: "m9", ContentHash: "h9"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRun(ctx, later, single); err != nil {
		t.Fatalf("SaveRun() second run error = %v", err)
	}

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs() error = %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" || runs[1].ID != "run-1" {
		t.Fatalf("Runs() = %+v, want run-2 then run-1", runs)
	}
	if runs[1].Written != 2 || runs[1].Source != run.Source {
		t.Errorf("run-1 = %+v", runs[1])
	}

	entries, err := s.Entries(ctx, "run-1")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if !reflect.DeepEqual(entries, m.Entries()) {
		t.Errorf("Entries(run-1) = %+v, want %+v", entries, m.Entries())
	}

	all, err := s.Entries(ctx, "")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(all) != 3 || all[2].MessageID != "m9" {
		t.Errorf("Entries(all) = %+v", all)
	}
}

func TestSQLiteStore_DuplicateRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	run := Run{ID: "dup", Destination: "d", StartedAt: time.Now().UTC(), FinishedAt: time.Now().UTC()}

	if err := s.SaveRun(ctx, run, sampleMapping(t)); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := s.SaveRun(ctx, run, sampleMapping(t)); err == nil {
		t.Fatal("expected error when saving the same run twice")
	}

	entries, err := s.Entries(ctx, "dup")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("failed save must roll back, got %d entries", len(entries))
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	run := Run{ID: "r", Destination: "d", StartedAt: time.Now().UTC(), FinishedAt: time.Now().UTC(), Written: 2}
	if err := s.SaveRun(ctx, run, sampleMapping(t)); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.Entries(ctx, "r")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries after reopen, want 2", len(entries))
	}
}
