package filter

import (
	"testing"
)

// BenchmarkAllowList_Allows_Match benchmarks an allowed media type
func BenchmarkAllowList_Allows_Match(b *testing.B) {
	f := Default()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows("application/pdf")
	}
}

// BenchmarkAllowList_Allows_WithParams benchmarks a media type carrying parameters
func BenchmarkAllowList_Allows_WithParams(b *testing.B) {
	f := Default()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows("image/png; name=\"scan-0001.png\"")
	}
}

// BenchmarkAllowList_Allows_Reject benchmarks a media type outside the list
func BenchmarkAllowList_Allows_Reject(b *testing.B) {
	f := Default()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows("text/plain; charset=utf-8")
	}
}
