package zones_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwatt/market-indexer/pkg/zones"
)

func writeZoneFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidFile(t *testing.T) {
	path := writeZoneFile(t, `
zones:
  - zone_id: 1
    name: Civil Lines
    city: Jaipur
    base_price_per_kwh: "8.50"
    demand_multiplier: 1.2
  - zone_id: 2
    name: Dwarka
    city: Delhi
`)

	zs, err := zones.Load(path)
	require.NoError(t, err)
	require.Len(t, zs, 2)
	assert.Equal(t, uint64(1), zs[0].ZoneID)
	assert.Equal(t, "Civil Lines", zs[0].Name)
	assert.Equal(t, "8.50", zs[0].BasePricePerKwh)
}

func TestLoadRejectsDuplicateZoneID(t *testing.T) {
	path := writeZoneFile(t, `
zones:
  - zone_id: 1
    name: Civil Lines
  - zone_id: 1
    name: Dwarka
`)

	_, err := zones.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate zone id 1")
}

func TestLoadRejectsMissingName(t *testing.T) {
	path := writeZoneFile(t, `
zones:
  - zone_id: 1
`)

	_, err := zones.Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := zones.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultCoversSeededCities(t *testing.T) {
	zs := zones.Default()
	require.Len(t, zs, 10)

	cities := make(map[string]int)
	for _, z := range zs {
		cities[z.City]++
	}
	assert.Equal(t, 4, cities["Jaipur"])
	assert.Equal(t, 2, cities["Delhi"])
	assert.Equal(t, 2, cities["Mumbai"])
	assert.Equal(t, 2, cities["Bangalore"])
}
