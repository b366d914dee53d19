package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAll_Empty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestCheckAll_ReportsInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("geocoder", func(context.Context) Status {
		return Status{Name: "geocoder", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "database", statuses[0].Name)
	assert.Equal(t, "geocoder", statuses[1].Name)
	assert.Equal(t, "connection refused", statuses[1].Detail)
}

func TestCheckAll_PanickingProbeIsUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("flaky", func(context.Context) Status {
		panic("boom")
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Healthy)
	assert.Contains(t, statuses[0].Detail, "boom")
}

func TestRegister_ReplacesByName(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) Status {
		return Status{Name: "database", Healthy: false}
	})
	r.Register("database", func(context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	require.Len(t, statuses, 1)
}
