package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type fileRecord struct {
	RunID string `json:"run_id,omitempty"`
	Entry
}

// AppendJSONL appends every entry of the mapping to a JSON lines file, one
// record per line. The file and its parent directory are created if needed.
func AppendJSONL(path, runID string, m *Mapping) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("ledger file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open ledger file for append: %w", err)
	}

	writer := bufio.NewWriterSize(file, 64*1024)
	for _, entry := range m.Entries() {
		data, err := json.Marshal(fileRecord{RunID: runID, Entry: entry})
		if err != nil {
			file.Close()
			return fmt.Errorf("encode ledger record: %w", err)
		}
		if _, err := writer.Write(data); err != nil {
			file.Close()
			return fmt.Errorf("write ledger record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			file.Close()
			return fmt.Errorf("write newline: %w", err)
		}
	}

	var firstErr error
	if err := writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush ledger file: %w", err)
	}
	if err := file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync ledger file: %w", err)
	}
	if err := file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close ledger file: %w", err)
	}
	return firstErr
}

// ReadJSONL loads the entries of a JSON lines ledger. When runID is not
// empty only records of that run are returned.
func ReadJSONL(path, runID string) ([]Entry, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var record fileRecord
		if err := json.Unmarshal(text, &record); err != nil {
			return nil, fmt.Errorf("parse ledger line %d: %w", line, err)
		}
		if record.StoredName == "" {
			continue
		}
		if runID != "" && record.RunID != runID {
			continue
		}
		entries = append(entries, record.Entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	return entries, nil
}
