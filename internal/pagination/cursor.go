// Package pagination implements opaque keyset cursors for listing endpoints.
// A cursor encodes the (createdAt, id) position of the last item on a page;
// the stores resolve it to a "strictly older than" filter, so pages stay
// stable while new redemptions are written at the head of the history.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned for cursors the service did not mint.
var ErrMalformed = errors.New("malformed cursor")

// Cursor is a decoded keyset position.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode renders the position as an opaque URL-safe token.
func Encode(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a token minted by Encode. An empty token decodes to nil,
// meaning "start from the newest item".
func Decode(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrMalformed
	}
	nanosStr, id, found := strings.Cut(string(raw), "|")
	if !found {
		return nil, ErrMalformed
	}
	nanos, err := strconv.ParseInt(nanosStr, 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// ComputePage trims a limit+1 fetch down to one page. When the extra item is
// present it returns the cursor pointing past the trimmed page and hasMore
// true; extractKey pulls the keyset fields from the last kept item.
func ComputePage[T any](items []T, limit int, extractKey func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	page := items[:limit]
	createdAt, id := extractKey(page[len(page)-1])
	return page, Encode(createdAt, id), true
}
