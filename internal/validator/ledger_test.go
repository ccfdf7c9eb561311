package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedger_reserveIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	l := NewCapacityLedger()
	assert.True(t, l.Observe(ctx, "dc1", 10, 1))

	free, version, ok := l.Read("dc1")
	assert.True(t, ok)
	assert.Equal(t, int64(10), free)
	assert.Equal(t, int64(1), version)

	assert.True(t, l.TryReserve("dc1", 1, 4))
	assert.False(t, l.TryReserve("dc1", 1, 4), "old version must lose")
	assert.False(t, l.TryReserve("dc1", 2, 7), "not enough capacity")
	assert.True(t, l.TryReserve("dc1", 2, 6))

	free, version, _ = l.Read("dc1")
	assert.Equal(t, int64(0), free)
	assert.Equal(t, int64(3), version)

	l.Release("dc1", 3)
	free, version, _ = l.Read("dc1")
	assert.Equal(t, int64(3), free)
	assert.Equal(t, int64(4), version)

	assert.False(t, l.TryReserve("unknown", 0, 1))
	_, _, ok = l.Read("unknown")
	assert.False(t, ok)
}

func TestLedger_observeIgnoresOldReports(t *testing.T) {
	ctx := context.Background()
	l := NewCapacityLedger()
	l.Observe(ctx, "dc1", 10, 5)
	assert.True(t, l.TryReserve("dc1", 1, 4))

	// same report again: the reservation stays
	assert.False(t, l.Observe(ctx, "dc1", 10, 5))
	assert.False(t, l.Observe(ctx, "dc1", 12, 4))
	free, _, _ := l.Read("dc1")
	assert.Equal(t, int64(6), free)

	assert.True(t, l.Observe(ctx, "dc1", 8, 6))
	free, version, _ := l.Read("dc1")
	assert.Equal(t, int64(8), free)
	assert.Equal(t, int64(3), version)

	l.Observe(ctx, "dc0", 1, 1)
	assert.Equal(t, []string{"dc0", "dc1"}, toStrings(l.Datacenters()))
}

func toStrings[T ~string](list []T) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, string(v))
	}
	return out
}
