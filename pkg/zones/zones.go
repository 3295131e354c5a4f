// Package zones loads the static grid-zone reference data. Zones describe
// geographic tariff partitions; the indexer treats them as read-only.
package zones

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/gridwatt/market-indexer/pkg/market"
)

type zoneFile struct {
	Zones []market.GridZone `yaml:"zones" validate:"required,min=1,dive"`
}

// Load reads a zone reference file and validates every entry.
func Load(path string) ([]market.GridZone, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zones file: %w", err)
	}

	var file zoneFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse zones file: %w", err)
	}

	if err := validator.New().Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid zones file: %w", err)
	}

	seen := make(map[uint64]bool, len(file.Zones))
	for _, z := range file.Zones {
		if seen[z.ZoneID] {
			return nil, fmt.Errorf("invalid zones file: duplicate zone id %d", z.ZoneID)
		}
		seen[z.ZoneID] = true
	}

	return file.Zones, nil
}

// Default returns the built-in zone set, used to seed the grid_zones table
// when no zone file is supplied.
func Default() []market.GridZone {
	return []market.GridZone{
		{ZoneID: 1, Name: "Civil Lines", City: "Jaipur", State: "Rajasthan", Country: "India", CenterLat: 26.9124, CenterLng: 75.7873, RadiusKm: 5, BasePricePerKwh: "8.50", DemandMultiplier: 1.2},
		{ZoneID: 2, Name: "Vaishali Nagar", City: "Jaipur", State: "Rajasthan", Country: "India", CenterLat: 26.9200, CenterLng: 75.7230, RadiusKm: 4, BasePricePerKwh: "9.00", DemandMultiplier: 1.3},
		{ZoneID: 3, Name: "Malviya Nagar", City: "Jaipur", State: "Rajasthan", Country: "India", CenterLat: 26.8540, CenterLng: 75.8119, RadiusKm: 5, BasePricePerKwh: "8.80", DemandMultiplier: 1.25},
		{ZoneID: 4, Name: "Connaught Place", City: "Delhi", State: "Delhi", Country: "India", CenterLat: 28.6315, CenterLng: 77.2167, RadiusKm: 3, BasePricePerKwh: "11.00", DemandMultiplier: 1.5},
		{ZoneID: 5, Name: "Dwarka", City: "Delhi", State: "Delhi", Country: "India", CenterLat: 28.5921, CenterLng: 77.0460, RadiusKm: 6, BasePricePerKwh: "9.50", DemandMultiplier: 1.3},
		{ZoneID: 6, Name: "Andheri West", City: "Mumbai", State: "Maharashtra", Country: "India", CenterLat: 19.1136, CenterLng: 72.8479, RadiusKm: 5, BasePricePerKwh: "12.00", DemandMultiplier: 1.6},
		{ZoneID: 7, Name: "Bandra", City: "Mumbai", State: "Maharashtra", Country: "India", CenterLat: 19.0596, CenterLng: 72.8295, RadiusKm: 4, BasePricePerKwh: "13.50", DemandMultiplier: 1.7},
		{ZoneID: 8, Name: "Koramangala", City: "Bangalore", State: "Karnataka", Country: "India", CenterLat: 12.9352, CenterLng: 77.6245, RadiusKm: 5, BasePricePerKwh: "10.50", DemandMultiplier: 1.4},
		{ZoneID: 9, Name: "Whitefield", City: "Bangalore", State: "Karnataka", Country: "India", CenterLat: 12.9698, CenterLng: 77.7499, RadiusKm: 6, BasePricePerKwh: "9.80", DemandMultiplier: 1.35},
		{ZoneID: 10, Name: "Mansarovar", City: "Jaipur", State: "Rajasthan", Country: "India", CenterLat: 26.8700, CenterLng: 75.7500, RadiusKm: 5, BasePricePerKwh: "8.70", DemandMultiplier: 1.22},
	}
}
