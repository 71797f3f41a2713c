package visibility

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/lkzdsb-lab/community-feed/internal/model"
)

type SortMode string

const (
	SortDefault SortMode = "DEFAULT"
	SortLatest  SortMode = "LATEST"
)

func ParseSort(s string) SortMode {
	if SortMode(s) == SortLatest {
		return SortLatest
	}
	return SortDefault
}

const priorityWeightSQL = "CASE priority WHEN 'URGENT' THEN 4 WHEN 'HIGH' THEN 3 WHEN 'NORMAL' THEN 2 WHEN 'LOW' THEN 1 ELSE 0 END"

// OrderSQL is the ORDER BY clause for a sort mode. id breaks ties so paging is stable.
func OrderSQL(mode SortMode) string {
	if mode == SortLatest {
		return "created_at DESC, id DESC"
	}
	return "is_pinned DESC, " + priorityWeightSQL + " DESC, created_at DESC, id DESC"
}

// Less reports whether a sorts before b under mode, mirroring OrderSQL.
func Less(a, b *model.FeedCommunity, mode SortMode) bool {
	if mode != SortLatest {
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if wa, wb := a.Priority.Weight(), b.Priority.Weight(); wa != wb {
			return wa > wb
		}
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Cursor is the full sort key of the last row on a page. Pinned and Priority only
// take part under SortDefault.
type Cursor struct {
	Mode      SortMode
	Pinned    bool
	Priority  model.Priority
	CreatedAt time.Time
	ID        uint64
}

func CursorOf(last *model.FeedCommunity, mode SortMode) Cursor {
	return Cursor{
		Mode:      ParseSort(string(mode)),
		Pinned:    last.IsPinned,
		Priority:  last.Priority,
		CreatedAt: last.CreatedAt,
		ID:        last.ID,
	}
}

// Encode renders c as an opaque url-safe token. The timestamp keeps its zone offset
// so the store compares it against the same text it wrote.
func (c Cursor) Encode() string {
	at := c.CreatedAt.Format(time.RFC3339Nano)
	id := strconv.FormatUint(c.ID, 10)
	var raw string
	if c.Mode == SortLatest {
		raw = strings.Join([]string{"L", at, id}, "|")
	} else {
		raw = strings.Join([]string{"D", strconv.FormatBool(c.Pinned), string(c.Priority), at, id}, "|")
	}
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a token from Encode. An empty string means no cursor; a token
// issued for another sort mode is rejected.
func ParseCursor(s string, mode SortMode) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	mode = ParseSort(string(mode))
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode cursor")
	}
	parts := strings.Split(string(raw), "|")
	c := Cursor{Mode: mode}
	switch {
	case mode == SortLatest && len(parts) == 3 && parts[0] == "L":
		parts = parts[1:]
	case mode == SortDefault && len(parts) == 5 && parts[0] == "D":
		if c.Pinned, err = strconv.ParseBool(parts[1]); err != nil {
			return nil, errors.Wrap(err, "cursor pinned")
		}
		c.Priority = model.Priority(parts[2])
		parts = parts[3:]
	default:
		return nil, errors.New("cursor does not match sort mode")
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, parts[0]); err != nil {
		return nil, errors.Wrap(err, "cursor time")
	}
	if c.ID, err = strconv.ParseUint(parts[1], 10, 64); err != nil {
		return nil, errors.Wrap(err, "cursor id")
	}
	return &c, nil
}

// afterTerm keeps the rows that sort strictly after the cursor row.
type afterTerm struct{ c Cursor }

func (t afterTerm) sql(b *strings.Builder, vars *[]any) {
	c := t.c
	tail := "(created_at < ? OR (created_at = ? AND id < ?))"
	tailVars := []any{c.CreatedAt, c.CreatedAt, c.ID}
	if c.Mode == SortLatest {
		b.WriteString(tail)
		*vars = append(*vars, tailVars...)
		return
	}
	w := c.Priority.Weight()
	weighted := "(" + priorityWeightSQL + " < ? OR (" + priorityWeightSQL + " = ? AND " + tail + "))"
	weightedVars := append([]any{w, w}, tailVars...)
	if c.Pinned {
		b.WriteString("(is_pinned = ? OR (is_pinned = ? AND " + weighted + "))")
		*vars = append(*vars, false, true)
	} else {
		b.WriteString("(is_pinned = ? AND " + weighted + ")")
		*vars = append(*vars, false)
	}
	*vars = append(*vars, weightedVars...)
}

func (t afterTerm) match(fc *model.FeedCommunity) bool {
	last := &model.FeedCommunity{
		ID:        t.c.ID,
		IsPinned:  t.c.Pinned,
		Priority:  t.c.Priority,
		CreatedAt: t.c.CreatedAt,
	}
	return Less(last, fc, t.c.Mode)
}
