package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/99designs/keyring"

	"github.com/dhcgn/mail-attachment-extractor/credential"
	"github.com/dhcgn/mail-attachment-extractor/extractor"
)

func message(id, subject, filename string) string {
	return "From sender@example.com Mon Jan  1 00:00:00 2024\n" +
		"Message-Id: <" + id + ">\n" +
		"Subject: " + subject + "\n" +
		"MIME-Version: 1.0\n" +
		"Content-Type: multipart/mixed; boundary=B\n" +
		"\n" +
		"--B\n" +
		"Content-Type: text/plain\n" +
		"\n" +
		"body\n" +
		"--B\n" +
		"Content-Type: application/pdf\n" +
		"Content-Disposition: attachment; filename=\"" + filename + "\"\n" +
		"\n" +
		"%PDF-" + id + "\n" +
		"--B--\n" +
		"\n"
}

func writeArchive(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "archive.mbox")
	content := message("a@x", "Update", "report.pdf") + message("b@x", "Update", "report.pdf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("IMAP_PASS", "unused")
	root, err := NewRootCommand()
	if err != nil {
		t.Fatalf("NewRootCommand() error = %v", err)
	}
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err = root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRoot_ExtractsFromMbox(t *testing.T) {
	dir := t.TempDir()
	archive := writeArchive(t, dir)
	dest := filepath.Join(dir, "out")
	if err := os.Mkdir(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	mappingFile := filepath.Join(dir, "mapping.jsonl")
	ledgerDB := filepath.Join(dir, "ledger.db")
	metricsFile := filepath.Join(dir, "mae.prom")

	_, err := execute(t, "",
		"--mbox", archive,
		"--dest", dest,
		"--mapping-file", mappingFile,
		"--ledger-db", ledgerDB,
		"--metrics-file", metricsFile,
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("execute() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dest, "attachments"))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	want := []string{"Update - report.pdf", "Update - report.pdf (2)"}
	if strings.Join(names, "|") != strings.Join(want, "|") {
		t.Errorf("files = %v, want %v", names, want)
	}

	if _, err := os.Stat(mappingFile); err != nil {
		t.Errorf("mapping file: %v", err)
	}
	metrics, err := os.ReadFile(metricsFile)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	if !strings.Contains(string(metrics), "mae_attachments_written_total 2") {
		t.Errorf("metrics = %s", metrics)
	}

	out, err := execute(t, "", "ledger", "--ledger-db", ledgerDB)
	if err != nil {
		t.Fatalf("ledger error = %v", err)
	}
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("ledger csv: %v\n%s", err, out)
	}
	if len(records) != 3 {
		t.Fatalf("ledger rows = %d, want header + 2:\n%s", len(records), out)
	}
	if records[0][0] != "stored_name" {
		t.Errorf("header = %v", records[0])
	}

	out, err = execute(t, "", "ledger", "--mapping-file", mappingFile)
	if err != nil {
		t.Fatalf("ledger jsonl error = %v", err)
	}
	if !strings.Contains(out, "Update - report.pdf (2),b@x") {
		t.Errorf("jsonl ledger output = %s", out)
	}

	out, err = execute(t, "", "ledger", "--ledger-db", ledgerDB, "--runs")
	if err != nil {
		t.Fatalf("ledger runs error = %v", err)
	}
	if !strings.Contains(out, "mbox:"+archive) {
		t.Errorf("runs output = %s", out)
	}
}

func TestCount(t *testing.T) {
	dir := t.TempDir()
	archive := writeArchive(t, dir)

	out, err := execute(t, "", "count", "--mbox", archive, "--log-level", "error")
	if err != nil {
		t.Fatalf("count error = %v", err)
	}
	if strings.TrimSpace(out) != "2" {
		t.Errorf("count output = %q, want 2", out)
	}

	out, err = execute(t, "", "count", "--mbox", archive, "--limit", "1", "--log-level", "error")
	if err != nil {
		t.Fatalf("count error = %v", err)
	}
	if strings.TrimSpace(out) != "1" {
		t.Errorf("count with limit = %q, want 1", out)
	}
}

func TestRoot_RequiresSource(t *testing.T) {
	if _, err := execute(t, "", "--log-level", "error"); err == nil {
		t.Error("expected error without --mbox or --imap-host")
	}
}

func TestLedger_RequiresStore(t *testing.T) {
	if _, err := execute(t, "", "ledger"); err == nil {
		t.Error("expected error without ledger source")
	}
}

func TestPassword_StoresInKeyring(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	prev := openCredentials
	openCredentials = func() (*credential.Store, error) { return credential.NewStore(ring), nil }
	t.Cleanup(func() { openCredentials = prev })

	out, err := execute(t, "hunter2\n", "password", "--imap-host", "mail.example.com", "--imap-user", "alice")
	if err != nil {
		t.Fatalf("password error = %v", err)
	}
	if !strings.Contains(out, "imap:alice@mail.example.com") {
		t.Errorf("output = %q", out)
	}

	got, err := credential.NewStore(ring).Password("mail.example.com", "alice")
	if err != nil || got != "hunter2" {
		t.Errorf("stored password = %q, %v", got, err)
	}

	if _, err := execute(t, "", "password", "--imap-host", "mail.example.com"); err == nil {
		t.Error("expected error without --imap-user")
	}
}

func TestRoot_BadDestinationBeforeConnecting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan struct{}, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- struct{}{}
			conn.Close()
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	_, err = execute(t, "",
		"--imap-host", host,
		"--imap-port", port,
		"--imap-user", "alice",
		"--imap-pass", "secret",
		"--use-tls=false",
		"--dest", filepath.Join(t.TempDir(), "missing"),
		"--log-level", "error",
	)

	var cfgErr *extractor.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("execute() error = %v, want ConfigurationError", err)
	}

	// Drain anything already queued, then stop accepting.
	_ = ln.(*net.TCPListener).SetDeadline(time.Now().Add(100 * time.Millisecond))
	<-done
	if n := len(accepted); n != 0 {
		t.Errorf("accepted %d connections before the destination was validated", n)
	}
}
