package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledCache(t *testing.T) {
	c := New(nil, 0)
	assert.False(t, c.Enabled())
	_, ok := c.Get(context.Background(), "1.2.3.4")
	assert.False(t, ok)
	c.Set(context.Background(), "1.2.3.4", []byte("{}"))
	n, err := c.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 10*time.Minute, c.ttl)

	var nilCache *Results
	assert.False(t, nilCache.Enabled())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ipinfo:8.8.8.8", Key("8.8.8.8"))
}
