package filter

import (
	"fmt"
	"mime"
	"sort"
	"strings"
)

// DefaultMIMETypes are the attachment types eligible for extraction.
var DefaultMIMETypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"application/pdf",
	"application/octet-stream",
}

// AllowList matches attachment MIME types against a fixed set.
type AllowList struct {
	types map[string]struct{}
}

// New creates an AllowList from the provided media types.
func New(types ...string) (*AllowList, error) {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		normalized, ok := normalize(t)
		if !ok {
			return nil, fmt.Errorf("invalid media type %q", t)
		}
		allowed[normalized] = struct{}{}
	}
	return &AllowList{types: allowed}, nil
}

// Default returns the AllowList for DefaultMIMETypes.
func Default() *AllowList {
	list, err := New(DefaultMIMETypes...)
	if err != nil {
		panic(err)
	}
	return list
}

// Allows reports whether the media type is in the list. Parameters such as
// charset and letter case are ignored.
func (l *AllowList) Allows(mimeType string) bool {
	normalized, ok := normalize(mimeType)
	if !ok {
		return false
	}
	_, allowed := l.types[normalized]
	return allowed
}

// Types returns the allowed media types in sorted order.
func (l *AllowList) Types() []string {
	types := make([]string, 0, len(l.types))
	for t := range l.types {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func normalize(mimeType string) (string, bool) {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return "", false
	}
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "", false
	}
	if !strings.Contains(mediaType, "/") {
		return "", false
	}
	return mediaType, true
}
