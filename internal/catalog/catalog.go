/**
 * @description
 * Static catalog of purchasable offerings. The catalog is read-only at
 * runtime: lookups return copies, never pointers into the backing slice.
 * One offering, custom-tan, lives outside the static table and is
 * synthesized on demand from a caller-supplied session count.
 */
package catalog

import (
	"errors"
	"fmt"
)

const (
	TypeSunBeds  = "sun-beds"
	TypeSprayTan = "spray-tan"
	TypeCollagen = "collagen"

	// CustomTanID identifies the synthesized variable-size sun-bed package.
	CustomTanID = "custom-tan"

	// Custom-tan pricing and bounds. Requests outside the range are rejected,
	// never clamped.
	CustomTanMinSessions      = 4
	CustomTanMaxSessions      = 20
	CustomTanPerSessionAgorot = int64(4500)
)

var (
	ErrPackageNotFound     = errors.New("package not found")
	ErrInvalidSessionCount = errors.New("session count out of range")
)

// Package describes one purchasable offering.
type Package struct {
	ID       string `json:"id"`
	NameEN   string `json:"name_en"`
	NameHE   string `json:"name_he"`
	Type     string `json:"type"`
	Sessions int    `json:"sessions"`
	Price    int64  `json:"price"` // in agorot
	Currency string `json:"currency"`
}

var packages = []Package{
	{ID: "sunbed-6", NameEN: "Sun Bed 6 Sessions", NameHE: "מיטת שיזוף 6 כניסות", Type: TypeSunBeds, Sessions: 6, Price: 19900, Currency: "ILS"},
	{ID: "sunbed-10", NameEN: "Sun Bed 10 Sessions", NameHE: "מיטת שיזוף 10 כניסות", Type: TypeSunBeds, Sessions: 10, Price: 29900, Currency: "ILS"},
	{ID: "sunbed-20", NameEN: "Sun Bed 20 Sessions", NameHE: "מיטת שיזוף 20 כניסות", Type: TypeSunBeds, Sessions: 20, Price: 49900, Currency: "ILS"},
	{ID: "spray-3", NameEN: "Spray Tan 3 Sessions", NameHE: "שיזוף בהתזה 3 טיפולים", Type: TypeSprayTan, Sessions: 3, Price: 24900, Currency: "ILS"},
	{ID: "spray-5", NameEN: "Spray Tan 5 Sessions", NameHE: "שיזוף בהתזה 5 טיפולים", Type: TypeSprayTan, Sessions: 5, Price: 37900, Currency: "ILS"},
	{ID: "collagen-8", NameEN: "Collagen Bed 8 Sessions", NameHE: "מיטת קולגן 8 כניסות", Type: TypeCollagen, Sessions: 8, Price: 44900, Currency: "ILS"},
	{ID: "collagen-12", NameEN: "Collagen Bed 12 Sessions", NameHE: "מיטת קולגן 12 כניסות", Type: TypeCollagen, Sessions: 12, Price: 59900, Currency: "ILS"},
}

// GetPackageByID returns the catalog entry with the given id.
func GetPackageByID(id string) (Package, error) {
	for _, p := range packages {
		if p.ID == id {
			return p, nil
		}
	}
	return Package{}, ErrPackageNotFound
}

// GetPackagesByType returns all entries of the given service type, in catalog
// order. The order is stable across calls within a process lifetime.
func GetPackagesByType(packageType string) []Package {
	var out []Package
	for _, p := range packages {
		if p.Type == packageType {
			out = append(out, p)
		}
	}
	return out
}

// AllPackages returns a copy of the full catalog.
func AllPackages() []Package {
	out := make([]Package, len(packages))
	copy(out, packages)
	return out
}

// CustomSessionPackage synthesizes the custom-tan offering for the requested
// session count. Counts outside [CustomTanMinSessions, CustomTanMaxSessions]
// are rejected as invalid input.
func CustomSessionPackage(sessions int) (Package, error) {
	if sessions < CustomTanMinSessions || sessions > CustomTanMaxSessions {
		return Package{}, fmt.Errorf("%w: %d (allowed %d-%d)", ErrInvalidSessionCount, sessions, CustomTanMinSessions, CustomTanMaxSessions)
	}
	return Package{
		ID:       CustomTanID,
		NameEN:   fmt.Sprintf("Sun Bed %d Sessions", sessions),
		NameHE:   fmt.Sprintf("מיטת שיזוף %d כניסות", sessions),
		Type:     TypeSunBeds,
		Sessions: sessions,
		Price:    int64(sessions) * CustomTanPerSessionAgorot,
		Currency: "ILS",
	}, nil
}
