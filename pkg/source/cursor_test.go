package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("Page")
	require.NoError(t, err)
	assert.Equal(t, StrategyPage, s)

	s, err = ParseStrategy(" offset ")
	require.NoError(t, err)
	assert.Equal(t, StrategyOffset, s)

	_, err = ParseStrategy("cursor")
	assert.Error(t, err)
}

func TestCursorAdvance(t *testing.T) {
	t.Run("page advances by one", func(t *testing.T) {
		c := NewCursor(StrategyPage)
		assert.Equal(t, 1, c.Position)

		for want := 2; want <= 4; want++ {
			next := c.Advance(5000)
			assert.Equal(t, want, next.Position)
			assert.Greater(t, next.Position, c.Position)
			c = next
		}
	})

	t.Run("offset advances by limit", func(t *testing.T) {
		c := NewCursor(StrategyOffset)
		assert.Equal(t, 0, c.Position)

		c = c.Advance(10)
		assert.Equal(t, 10, c.Position)
		c = c.Advance(10)
		assert.Equal(t, 20, c.Position)
	})

	t.Run("advance does not mutate receiver", func(t *testing.T) {
		c := NewCursor(StrategyOffset)
		_ = c.Advance(10)
		assert.Equal(t, 0, c.Position)
	})
}

func TestCursorString(t *testing.T) {
	assert.Equal(t, "Page 1", NewCursor(StrategyPage).String())
	assert.Equal(t, "Offset 0", NewCursor(StrategyOffset).String())
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		c    Cursor
		want string
	}{
		{
			name: "existing query",
			base: "https://api.acleddata.com/acled/read?key=k&email=e",
			c:    Cursor{Strategy: StrategyPage, Position: 3},
			want: "https://api.acleddata.com/acled/read?key=k&email=e&limit=10&page=3",
		},
		{
			name: "no query",
			base: "https://api.acleddata.com/acled/read",
			c:    Cursor{Strategy: StrategyOffset, Position: 20},
			want: "https://api.acleddata.com/acled/read?limit=10&offset=20",
		},
		{
			name: "trailing separator",
			base: "https://api.acleddata.com/acled/read?country=Yemen&",
			c:    NewCursor(StrategyPage),
			want: "https://api.acleddata.com/acled/read?country=Yemen&limit=10&page=1",
		},
		{
			name: "unescaped filter kept",
			base: "https://api.acleddata.com/acled/read?event_date=2024-01-01|2024-12-31&event_date_where=BETWEEN",
			c:    NewCursor(StrategyOffset),
			want: "https://api.acleddata.com/acled/read?event_date=2024-01-01|2024-12-31&event_date_where=BETWEEN&limit=10&offset=0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildURL(tt.base, tt.c, 10))
		})
	}
}
