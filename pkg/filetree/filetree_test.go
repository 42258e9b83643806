package filetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromPaths(t *testing.T) {
	got := FromPaths("PoputchikBot", []string{
		"bot.py",
		"handlers/order.py",
		"handlers/profile.py",
		"config.py",
		"database/models.py",
	}, -1)

	want := `PoputchikBot/
├── database/
│   └── models.py
├── handlers/
│   ├── order.py
│   └── profile.py
├── bot.py
└── config.py
`
	assert.Equal(t, want, got)
}

func TestFromPathsDepthLimit(t *testing.T) {
	got := FromPaths("app", []string{"a/b/c.py", "a/d.py", "e.py"}, 0)
	want := `app/
├── a/
└── e.py
`
	assert.Equal(t, want, got)
}

func TestFromPathsEmpty(t *testing.T) {
	assert.Equal(t, "app/\n", FromPaths("app", nil, -1))
}
