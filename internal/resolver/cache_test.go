package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLookup struct {
	calls int
	err   error
}

func (c *countingLookup) Lookup(_ context.Context, target string) (*Result, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &Result{Domain: CleanHost(target), IP: "192.0.2.7", IPs: []string{"192.0.2.7"}}, nil
}

func TestCacheServesRepeatLookups(t *testing.T) {
	next := &countingLookup{}
	c := NewCache(next, time.Minute)

	first, err := c.Lookup(context.Background(), "example.com")
	require.NoError(t, err)
	second, err := c.Lookup(context.Background(), "https://example.com/login")
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls, "URL and bare host share an entry")
	assert.Equal(t, first.IP, second.IP)

	second.IPs[0] = "mutated"
	third, err := c.Lookup(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.7", third.IPs[0], "callers get their own copy")
}

func TestCacheExpires(t *testing.T) {
	next := &countingLookup{}
	c := NewCache(next, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.Lookup(context.Background(), "example.com")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = c.Lookup(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
	assert.Equal(t, 1, c.Len())
}

func TestCacheSkipsFailures(t *testing.T) {
	next := &countingLookup{err: ErrNoRecords}
	c := NewCache(next, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := c.Lookup(context.Background(), "missing.example")
		assert.True(t, errors.Is(err, ErrNoRecords))
	}
	assert.Equal(t, 2, next.calls)
	assert.Zero(t, c.Len())
}
