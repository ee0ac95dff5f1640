// Package common provides shared utilities and default configuration.
package common

// DefaultKVValue represents a default key/value pair that is seeded on startup.
type DefaultKVValue struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// GetDefaultKVValues returns the list of default KV values seeded on startup.
// This is the single source of truth for default values.
func GetDefaultKVValues() []DefaultKVValue {
	return []DefaultKVValue{
		{
			Key:         "places_base_url",
			Value:       "https://places.googleapis.com/v1",
			Description: "Places API base URL",
		},
		{
			Key:         "geocode_base_url",
			Value:       "https://maps.googleapis.com/maps/api/geocode/json",
			Description: "Geocoding API base URL",
		},
	}
}
