// Package pagination implements the opaque cursor tokens used by list
// endpoints. Tokens wrap Firestore StartAfter values so clients never see
// raw document fields.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultPageSize applies when a caller omits or zeroes the page size.
	DefaultPageSize = 50
	// MaxPageSize caps a single page to keep Firestore reads bounded.
	MaxPageSize = 100
)

// ErrInvalidPageToken marks tokens that fail to decode. Handlers translate
// it into a 400.
var ErrInvalidPageToken = errors.New("pagination: invalid page token")

// Cursor carries the resume position for the next page.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
}

// Clamp normalises a requested page size into the allowed range.
func Clamp(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}

// EncodeToken turns a cursor into an opaque URL-safe token. An empty cursor
// encodes to the empty string, meaning no further pages.
func EncodeToken(cursor Cursor) (string, error) {
	if len(cursor.StartAfter) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken reverses EncodeToken. Blank input yields a zero cursor so the
// first page needs no special casing.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
