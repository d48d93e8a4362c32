package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCache_SetGet(t *testing.T) {
	c := New()
	c.Set("DEMO", map[string]int{"bug": 10001}, 0)

	var out map[string]int
	require.NoError(t, c.Get("DEMO", &out))
	assert.Equal(t, 10001, out["bug"])
}

func TestTTLCache_Expiry(t *testing.T) {
	c := New()
	c.Set("DEMO", "metadata", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	var out string
	err := c.Get("DEMO", &out)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, c.Exists("DEMO"))
}

func TestTTLCache_Clear(t *testing.T) {
	c := New()
	c.Set("DEMO", "x", 0)
	c.Clear()
	assert.False(t, c.Exists("DEMO"))
}
