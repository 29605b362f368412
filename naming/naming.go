// Package naming turns attachment derived strings into safe, collision free
// file names inside a destination directory.
package naming

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxNameBytes is the longest name most filesystems accept for a single path component.
	MaxNameBytes = 255
	// Placeholder replaces names that sanitize to nothing.
	Placeholder = "attachment"

	// Extensions longer than this are treated as part of the name when truncating.
	maxExtBytes = 16
)

// StorageError reports a filesystem failure while resolving or writing a file.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Sanitize converts raw into a single path component that is safe to create
// on common filesystems. The result is never empty and never longer than
// MaxNameBytes. Sanitize is idempotent.
func Sanitize(raw string) string {
	var sb strings.Builder
	sb.Grow(len(raw))

	space := false
	for _, r := range raw {
		switch {
		case r == utf8.RuneError:
			r = '_'
		case isIllegal(r):
			r = '_'
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r), !unicode.IsPrint(r):
			continue
		}
		if space {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			space = false
		}
		sb.WriteRune(r)
	}

	name := trimName(sb.String())
	name = truncate(name, MaxNameBytes)
	if name == "" {
		return Placeholder
	}
	return name
}

func isIllegal(r rune) bool {
	switch r {
	case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
		return true
	}
	return false
}

// trimName drops surrounding spaces and dots; "." and ".." collapse to "".
func trimName(name string) string {
	return strings.Trim(name, " .")
}

// truncate shortens name to at most limit bytes on a rune boundary, keeping a
// short extension intact.
func truncate(name string, limit int) string {
	if len(name) <= limit {
		return name
	}

	ext := filepath.Ext(name)
	if len(ext) > maxExtBytes || len(ext) >= limit {
		ext = ""
	}
	base := strings.TrimSuffix(name, ext)

	cut := limit - len(ext)
	for cut > 0 && !utf8.RuneStart(base[cut]) {
		cut--
	}
	return trimName(base[:cut]) + ext
}

// MakeUnique returns a name that does not exist in dir. When base is taken a
// counter suffix " (2)", " (3)", ... is appended until a free name is found.
// Names are compared case-insensitively so the result is also free on
// case-insensitive filesystems. The directory is consulted on every call.
func MakeUnique(dir, base string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", &StorageError{Op: "readdir", Path: dir, Err: err}
	}

	taken := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		taken[foldName(entry.Name())] = struct{}{}
	}

	free := func(name string) (bool, error) {
		if _, exists := taken[foldName(name)]; exists {
			return false, nil
		}
		_, err := os.Lstat(filepath.Join(dir, name))
		switch {
		case err == nil:
			return false, nil
		case errors.Is(err, fs.ErrNotExist):
			return true, nil
		default:
			return false, &StorageError{Op: "stat", Path: filepath.Join(dir, name), Err: err}
		}
	}

	if ok, err := free(base); err != nil || ok {
		return base, err
	}

	for n := 2; ; n++ {
		suffix := " (" + strconv.Itoa(n) + ")"
		candidate := truncate(base, MaxNameBytes-len(suffix)) + suffix
		ok, err := free(candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}
}

func foldName(name string) string {
	return strings.ToLower(strings.ToUpper(name))
}
