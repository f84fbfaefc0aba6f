package aggregator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/aggregator-router/internal/aggregator"
	"github.com/stanstork/aggregator-router/internal/aggregator/aggregatortest"
)

func TestRegistry(t *testing.T) {
	reg := aggregator.NewRegistry()
	mx := new(aggregatortest.MockAdapter)
	sandbox := new(aggregatortest.MockAdapter)
	reg.Register("mx", mx, aggregator.WithTestAdapter("sandbox"))
	reg.Register("sandbox", sandbox)

	got, err := reg.Get("mx")
	require.NoError(t, err)
	assert.Same(t, mx, got)

	name, ok := reg.TestAdapterFor("mx")
	assert.True(t, ok)
	assert.Equal(t, "sandbox", name)

	_, ok = reg.TestAdapterFor("sandbox")
	assert.False(t, ok)

	_, err = reg.Get("finicity")
	assert.ErrorIs(t, err, aggregator.ErrUnknownAggregator)

	assert.Equal(t, []string{"mx", "sandbox"}, reg.Names())
}

func TestRegistry_SetTestAdapter(t *testing.T) {
	reg := aggregator.NewRegistry()
	sandbox := new(aggregatortest.MockAdapter)
	reg.Register("sandbox", sandbox)

	reg.SetTestAdapter("finicity", "sandbox")
	reg.SetTestAdapter("sandbox", "sandbox")

	name, ok := reg.TestAdapterFor("finicity")
	assert.True(t, ok)
	assert.Equal(t, "sandbox", name)

	_, err := reg.Get("finicity")
	assert.ErrorIs(t, err, aggregator.ErrUnknownAggregator)

	got, err := reg.Get("sandbox")
	require.NoError(t, err)
	assert.Same(t, sandbox, got)
	assert.Equal(t, []string{"sandbox"}, reg.Names())
}
