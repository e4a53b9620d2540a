package chains

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Defaults(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	assert.Equal(t, 5, reg.Len())

	eth, ok := reg.ByID(1)
	require.True(t, ok)
	assert.Equal(t, "ethereum", eth.Name)
	assert.Equal(t, 12.0, eth.BlockTimeSecs)

	base, ok := reg.ByName("base")
	require.True(t, ok)
	assert.Equal(t, int64(8453), base.ID)
}

func TestRegistry_CustomTable(t *testing.T) {
	reg, err := NewRegistry([]Chain{
		{ID: 888, Name: "herochain", BlockTimeSecs: 1, ScanEndpoint: "https://scan.herochain.io/api"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, reg.Len())
	_, ok := reg.ByID(1)
	assert.False(t, ok, "default table must not leak into custom registries")
}

func TestRegistry_Validation(t *testing.T) {
	t.Run("missing id", func(t *testing.T) {
		_, err := NewRegistry([]Chain{{Name: "nochain", BlockTimeSecs: 2}})
		assert.Error(t, err)
	})

	t.Run("bad block time", func(t *testing.T) {
		_, err := NewRegistry([]Chain{{ID: 7, Name: "frozen", BlockTimeSecs: 0}})
		assert.Error(t, err)
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := NewRegistry([]Chain{
			{ID: 7, Name: "a", BlockTimeSecs: 1},
			{ID: 7, Name: "b", BlockTimeSecs: 1},
		})
		assert.Error(t, err)
	})
}

func TestRegistry_AllIsACopy(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	all := reg.All()
	all[0].Name = "mutated"

	eth, _ := reg.ByID(1)
	assert.Equal(t, "ethereum", eth.Name)
}
