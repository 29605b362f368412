package filter

import (
	"reflect"
	"testing"
)

func TestAllowList_Default(t *testing.T) {
	f := Default()

	tests := []struct {
		mimeType string
		want     bool
	}{
		{"image/jpeg", true},
		{"image/png", true},
		{"image/gif", true},
		{"application/pdf", true},
		{"application/octet-stream", true},
		{"IMAGE/PNG", true},
		{"image/png; name=\"logo.png\"", true},
		{"  application/pdf  ", true},
		{"text/plain", false},
		{"image/webp", false},
		{"application/zip", false},
		{"", false},
		{"not a type", false},
	}

	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			if got := f.Allows(tt.mimeType); got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.mimeType, got, tt.want)
			}
		})
	}
}

func TestAllowList_Types(t *testing.T) {
	f, err := New("image/png", "Application/PDF")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	want := []string{"application/pdf", "image/png"}
	if got := f.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}
}

func TestNew_InvalidType(t *testing.T) {
	if _, err := New("image/png", "garbage"); err == nil {
		t.Error("Expected error for invalid media type")
	}
}
