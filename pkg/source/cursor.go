package source

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Strategy selects how the cursor is expressed on the wire.
type Strategy string

const (
	// StrategyPage requests 1-based pages of `limit` records
	StrategyPage Strategy = "page"
	// StrategyOffset requests `limit` records starting at a 0-based offset
	StrategyOffset Strategy = "offset"
)

// ParseStrategy parses a pagination strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyPage:
		return StrategyPage, nil
	case StrategyOffset:
		return StrategyOffset, nil
	default:
		return "", fmt.Errorf("unknown pagination strategy %q (want page or offset)", s)
	}
}

// Cursor is the pagination position. It only ever moves forward.
type Cursor struct {
	Strategy Strategy
	Position int
}

// NewCursor returns the start cursor for a strategy: page 1 or offset 0.
func NewCursor(strategy Strategy) Cursor {
	if strategy == StrategyOffset {
		return Cursor{Strategy: StrategyOffset, Position: 0}
	}
	return Cursor{Strategy: StrategyPage, Position: 1}
}

// Advance returns the cursor following a successful request of limit records.
func (c Cursor) Advance(limit int) Cursor {
	if c.Strategy == StrategyOffset {
		return Cursor{Strategy: c.Strategy, Position: c.Position + limit}
	}
	return Cursor{Strategy: c.Strategy, Position: c.Position + 1}
}

// Params returns the query parameters requesting limit records at c.
func (c Cursor) Params(limit int) url.Values {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(limit))
	v.Set(string(c.Strategy), strconv.Itoa(c.Position))
	return v
}

// String renders the cursor for progress lines, e.g. "Page 3" or "Offset 10000".
func (c Cursor) String() string {
	if c.Strategy == StrategyOffset {
		return "Offset " + strconv.Itoa(c.Position)
	}
	return "Page " + strconv.Itoa(c.Position)
}

// BuildURL appends the pagination parameters to base. The base URL is kept
// byte for byte since it may carry filters the API expects unescaped.
func BuildURL(base string, c Cursor, limit int) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
		if strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&") {
			sep = ""
		}
	}
	return base + sep + c.Params(limit).Encode()
}
