package entities

import "strings"

// gemCatalog holds the intrinsic value in copper of each known gem type
var gemCatalog = map[string]int64{
	"agate":      20,
	"amethyst":   150,
	"garnet":     120,
	"topaz":      200,
	"pearl":      250,
	"opal":       400,
	"jade":       450,
	"emerald":    1200,
	"sapphire":   1500,
	"ruby":       1800,
	"diamond":    2500,
	"black opal": 3000,
}

// NormalizeGemType produces the storage key for a gem type
func NormalizeGemType(gemType string) string {
	return strings.ToLower(strings.TrimSpace(gemType))
}

// GemValue returns the intrinsic value of a gem type and whether it is catalogued
func GemValue(gemType string) (int64, bool) {
	v, ok := gemCatalog[NormalizeGemType(gemType)]
	return v, ok
}
