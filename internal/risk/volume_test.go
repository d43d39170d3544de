package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryVolumeTracker(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVolumeTracker()

	got, err := v.Add(ctx, "2024-03-10", "ETH", 100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got)

	got, _ = v.Add(ctx, "2024-03-10", "ETH", 50)
	assert.Equal(t, 150.0, got)
	_, _ = v.Add(ctx, "2024-03-10", "BTC", 25)

	total, _ := v.Total(ctx, "2024-03-10")
	assert.Equal(t, 175.0, total)

	// прошлая дата не видна после смены суток
	_, _ = v.Add(ctx, "2024-03-11", "ETH", 10)
	eth, _ := v.Get(ctx, "2024-03-10", "ETH")
	assert.Equal(t, 0.0, eth)
	total, _ = v.Total(ctx, "2024-03-11")
	assert.Equal(t, 10.0, total)
}
