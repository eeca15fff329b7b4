package pagination

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// Cursor is the position of the last item on a page. Lists run newest first, ties broken by
// descending id.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// IsZero reports whether the cursor points at the first page.
func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// Before reports whether an item with createdAt and id belongs on a page after the cursor.
func (c Cursor) Before(createdAt time.Time, id string) bool {
	switch {
	case c.IsZero(), createdAt.Before(c.CreatedAt):
		return true
	case createdAt.Equal(c.CreatedAt):
		return id < c.ID
	default:
		return false
	}
}

// EncodeToken renders cursor as an opaque URL-safe token: base64 of "<unix nanos>|<id>". The
// zero cursor encodes to "".
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	raw := strconv.FormatInt(cursor.CreatedAt.UnixNano(), 10) + "|" + cursor.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// DecodeToken reverses EncodeToken. An empty token is the first page.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, ErrInvalidPageToken
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return Cursor{}, ErrInvalidPageToken
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return Cursor{}, ErrInvalidPageToken
	}
	return Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}
