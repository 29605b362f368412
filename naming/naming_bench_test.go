package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// BenchmarkSanitize measures sanitizing a typical subject plus attachment name
func BenchmarkSanitize(b *testing.B) {
	raw := "Re: Fwd: Quarterly numbers / final\t - report (v2).pdf"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Sanitize(raw)
	}
}

// BenchmarkSanitize_Long measures the truncation path
func BenchmarkSanitize_Long(b *testing.B) {
	raw := strings.Repeat("subject ", 100) + ".pdf"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Sanitize(raw)
	}
}

// BenchmarkMakeUnique measures name resolution in a populated directory
func BenchmarkMakeUnique(b *testing.B) {
	dir := b.TempDir()
	for i := 0; i < 500; i++ {
		name := fmt.Sprintf("file-%d.pdf", i)
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := MakeUnique(dir, "file-1.pdf"); err != nil {
			b.Fatal(err)
		}
	}
}
