// Package cardscan runs live card scan sessions and stores the card layouts
// they are scanned against.
package cardscan

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zombor/card-scanner/internal/scanning"
)

// ServicesCardSerialLayout is the built-in layout for the serial barcode on
// the back of a services card
const ServicesCardSerialLayout = "services-card-serial"

// ErrInvalidLayout is returned when a layout fails validation
var ErrInvalidLayout = errors.New("invalid layout")

// Layout describes where the barcodes of one kind of card are expected and
// how strict the scan is
type Layout struct {
	Name  string              `json:"name" yaml:"name"`
	Zones []scanning.ScanZone `json:"zones" yaml:"zones"`
	// MinCodesForAligned defaults to the number of zones
	MinCodesForAligned   int     `json:"min_codes_for_aligned" yaml:"min_codes_for_aligned"`
	LockReadingThreshold int     `json:"lock_reading_threshold" yaml:"lock_reading_threshold"`
	MarginFactor         float64 `json:"margin_factor" yaml:"margin_factor"`
	// EnableScanZones is calibration mode: every code counts and the locked
	// frame can be saved as a new layout
	EnableScanZones bool      `json:"enable_scan_zones" yaml:"enable_scan_zones"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"-"`
}

// layoutFile is the top level of a YAML layout file
type layoutFile struct {
	Layouts []Layout `yaml:"layouts"`
}

// DefaultLayouts returns the layouts that exist without any configuration
func DefaultLayouts() []Layout {
	return []Layout{
		withDefaults(Layout{
			Name:  ServicesCardSerialLayout,
			Zones: slices.Clone(scanning.ServicesCardSerialZones),
		}),
	}
}

// LoadLayouts reads layouts from a YAML file of the form
//
//	layouts:
//	  - name: services-card-serial
//	    zones:
//	      - types: [code-39]
//	        box: {x: 0.1, y: 0.3, width: 0.8, height: 0.1}
func LoadLayouts(path string) ([]Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layouts file: %w", err)
	}

	var file layoutFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing layouts file: %w", err)
	}

	layouts := make([]Layout, 0, len(file.Layouts))
	for i, l := range file.Layouts {
		l = withDefaults(l)
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("layout %d: %w", i, err)
		}
		layouts = append(layouts, l)
	}
	return layouts, nil
}

// withDefaults fills the zero-valued thresholds. A layout without zones
// still needs one code to align.
func withDefaults(l Layout) Layout {
	if l.MinCodesForAligned <= 0 {
		l.MinCodesForAligned = max(len(l.Zones), 1)
	}
	if l.LockReadingThreshold <= 0 {
		l.LockReadingThreshold = scanning.DefaultLockReadingThreshold
	}
	if l.MarginFactor <= 0 {
		l.MarginFactor = scanning.DefaultMarginFactor
	}
	return l
}

// Validate checks the name and that every zone is a normalised box
func (l Layout) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidLayout)
	}
	for i, z := range l.Zones {
		b := z.Box
		if b.Width <= 0 || b.Height <= 0 {
			return fmt.Errorf("%w: zone %d of %s has an empty box", ErrInvalidLayout, i, l.Name)
		}
		if b.X < 0 || b.Y < 0 || b.X+b.Width > 1 || b.Y+b.Height > 1 {
			return fmt.Errorf("%w: zone %d of %s is outside the unit square", ErrInvalidLayout, i, l.Name)
		}
	}
	return nil
}

// StateOptions returns the state machine thresholds of the layout
func (l Layout) StateOptions() scanning.StateOptions {
	return scanning.StateOptions{
		EnableScanZones:      l.EnableScanZones,
		MinCodesForAligned:   l.MinCodesForAligned,
		LockReadingThreshold: l.LockReadingThreshold,
	}
}
