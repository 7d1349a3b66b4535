package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBloomPositions(t *testing.T) {
	a := bloomPositions([]byte("203.0.113.7"), 1<<10, 4)
	b := bloomPositions([]byte("203.0.113.7"), 1<<10, 4)
	assert.Equal(t, a, b)
	assert.Len(t, a, 4)
	for _, p := range a {
		assert.GreaterOrEqual(t, p, int64(0))
		assert.Less(t, p, int64(1<<10))
	}
	assert.NotEqual(t, a, bloomPositions([]byte("203.0.113.8"), 1<<10, 4))
}

func TestVisitorsDisabled(t *testing.T) {
	v := NewVisitors(nil)
	assert.Nil(t, v)
	first, err := v.First(context.Background(), "203.0.113.7")
	assert.NoError(t, err)
	assert.False(t, first)
}
