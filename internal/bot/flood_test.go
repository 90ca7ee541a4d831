package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFloodGuard_Burst(t *testing.T) {
	g := NewFloodGuard(0.001, 3)
	defer g.Stop()

	for i := 0; i < 3; i++ {
		ok, _ := g.Allow(1)
		assert.True(t, ok, "message %d", i+1)
	}

	ok, warn := g.Allow(1)
	assert.False(t, ok)
	assert.True(t, warn, "first dropped message warns")

	ok, warn = g.Allow(1)
	assert.False(t, ok)
	assert.False(t, warn, "one warning per burst")

	ok, _ = g.Allow(2)
	assert.True(t, ok, "other users are unaffected")
}

func TestFloodGuard_WarnsAgainAfterRecovery(t *testing.T) {
	g := NewFloodGuard(100, 1)
	defer g.Stop()

	g.Allow(1)
	_, warn := g.Allow(1)
	assert.True(t, warn)

	time.Sleep(30 * time.Millisecond)
	ok, _ := g.Allow(1)
	assert.True(t, ok)

	_, warn = g.Allow(1)
	assert.True(t, warn, "a new burst warns again")
}

func TestFloodGuard_Disabled(t *testing.T) {
	g := NewFloodGuard(0, 1)
	defer g.Stop()

	for i := 0; i < 100; i++ {
		ok, warn := g.Allow(1)
		assert.True(t, ok)
		assert.False(t, warn)
	}
	assert.Equal(t, 0, g.Len())
}

func TestFloodGuard_EvictsIdle(t *testing.T) {
	g := NewFloodGuard(1, 1)
	defer g.Stop()

	g.Allow(1)
	g.Allow(2)
	assert.Equal(t, 2, g.Len())

	g.evictIdle(time.Now().Add(time.Hour))
	assert.Equal(t, 0, g.Len())
}
