package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := New()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", []byte("v"), 0)
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := New()
	c.Set("k", []byte("v"), 10*time.Millisecond)

	_, ok := c.Get("k")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestMemoryCacheDelete(t *testing.T) {
	c := New()
	c.Set("k", []byte("v"), 0)
	c.Delete("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestMemoryCacheCopiesValue(t *testing.T) {
	c := New()
	val := []byte("original")
	c.Set("k", val, 0)
	val[0] = 'X'

	got, _ := c.Get("k")
	assert.Equal(t, []byte("original"), got)
}

func TestNewAutoFallsBackToMemory(t *testing.T) {
	c := NewAuto("")
	_, isMemory := c.(*memory)
	assert.True(t, isMemory)
}
