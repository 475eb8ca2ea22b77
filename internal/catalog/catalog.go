// Package catalog maps storefront product identifiers to the billing
// backend's product and add-on identifiers. The mapping is plain data so
// deployments can update it without code changes.
package catalog

import (
	"errors"
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ErrUnknownProduct is returned when an internal product ID has no backend mapping.
// This is a caller error, not a transient failure.
var ErrUnknownProduct = errors.New("unknown product id")

// Mapping holds the bidirectional product and add-on identifier tables.
type Mapping struct {
	// Products maps internal product IDs to billing backend product IDs.
	Products map[string]string `koanf:"products"`
	// Addons maps add-on names to billing backend add-on IDs.
	Addons map[string]string `koanf:"addons"`
}

// DefaultMapping returns the mapping for the stock VPS plans.
// Deployments normally override this with a YAML file (see Load).
func DefaultMapping() Mapping {
	return Mapping{
		Products: map[string]string{
			"1": "101", // VPS Starter
			"2": "102", // VPS Standard
			"3": "103", // VPS Performance
			"4": "104", // VPS Dedicated
		},
		Addons: map[string]string{
			"backup":     "201",
			"extra_ipv4": "202",
			"monitoring": "203",
		},
	}
}

// Load reads a mapping table from a YAML file.
func Load(path string) (Mapping, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Mapping{}, fmt.Errorf("failed to load catalog file %s: %w", path, err)
	}

	var m Mapping
	if err := k.Unmarshal("", &m); err != nil {
		return Mapping{}, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}
	if len(m.Products) == 0 {
		return Mapping{}, fmt.Errorf("catalog file %s defines no products", path)
	}
	return m, nil
}

// Mapper performs identifier translation against a fixed mapping table.
// Pure lookup; safe for concurrent use after construction.
type Mapper struct {
	mapping Mapping
	reverse map[string]string
}

// NewMapper creates a Mapper from the given mapping table.
func NewMapper(m Mapping) *Mapper {
	reverse := make(map[string]string, len(m.Products))
	for internal, backend := range m.Products {
		reverse[backend] = internal
	}
	return &Mapper{mapping: m, reverse: reverse}
}

// Product translates an internal product ID to the billing backend's ID.
// Returns ErrUnknownProduct for IDs outside the table.
func (m *Mapper) Product(internalID string) (string, error) {
	backendID, ok := m.mapping.Products[internalID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProduct, internalID)
	}
	return backendID, nil
}

// Internal translates a billing backend product ID back to the internal ID.
// Returns ErrUnknownProduct for IDs outside the table.
func (m *Mapper) Internal(backendID string) (string, error) {
	internalID, ok := m.reverse[backendID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProduct, backendID)
	}
	return internalID, nil
}

// Addon translates an add-on name to the billing backend's add-on ID.
// Returns an empty string when the add-on is unknown; unknown add-ons are
// silently skipped rather than failing the order line.
func (m *Mapper) Addon(name string) string {
	return m.mapping.Addons[name]
}
