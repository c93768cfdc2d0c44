package scanning

import (
	"slices"

	"github.com/zombor/card-scanner/internal/barcode"
	"github.com/zombor/card-scanner/internal/geometry"
)

// DefaultMarginFactor is the alignment tolerance, proportional to zone size
const DefaultMarginFactor = 0.05

// ScanZone describes where a barcode is expected on a card.
// Box is normalized (0-1) relative to the camera container.
type ScanZone struct {
	Types []string      `json:"types" yaml:"types"`
	Box   geometry.Rect `json:"box" yaml:"box"`
}

func (z ScanZone) accepts(codeType string) bool {
	return codeType == "" || len(z.Types) == 0 || slices.Contains(z.Types, codeType)
}

func (z ScanZone) bounds(container geometry.Size, marginFactor float64) geometry.Rect {
	abs := z.Box.Denormalize(container)
	return abs.Expand(abs.Width*marginFactor, abs.Height*marginFactor)
}

// IsAligned reports whether a code's box lies fully inside a matching scan
// zone, each zone expanded by marginFactor of its size on every side. When no
// zones are configured the fallback zone, already in container coordinates,
// is used instead. Without a container size nothing is aligned.
func IsAligned(code geometry.Rect, codeType string, container *geometry.Size, zones []ScanZone, fallback *geometry.Rect, marginFactor float64) bool {
	if container == nil {
		return false
	}
	if len(zones) > 0 {
		return MatchZone(code, codeType, *container, zones, marginFactor) >= 0
	}
	if fallback == nil {
		return false
	}
	return fallback.Expand(fallback.Width*marginFactor, fallback.Height*marginFactor).Contains(code)
}

// MatchZone returns the index of the first zone holding the code, or -1
func MatchZone(code geometry.Rect, codeType string, container geometry.Size, zones []ScanZone, marginFactor float64) int {
	for i, zone := range zones {
		if !zone.accepts(codeType) {
			continue
		}
		if zone.bounds(container, marginFactor).Contains(code) {
			return i
		}
	}
	return -1
}

// CoveredZones returns the indices of zones that hold at least one aligned code
func CoveredZones(codes []barcode.EnhancedCode, container *geometry.Size, zones []ScanZone, marginFactor float64) []int {
	if container == nil || len(zones) == 0 {
		return nil
	}
	covered := make([]int, 0, len(zones))
	for _, code := range codes {
		if !code.IsAligned || code.Position == nil {
			continue
		}
		i := MatchZone(*code.Position, string(code.Type), *container, zones, marginFactor)
		if i >= 0 && !slices.Contains(covered, i) {
			covered = append(covered, i)
		}
	}
	slices.Sort(covered)
	return covered
}

// ZonesFromCodes turns the positions of codes seen during calibration into
// normalized scan zones, one per code
func ZonesFromCodes(codes []barcode.EnhancedCode, container geometry.Size) []ScanZone {
	zones := make([]ScanZone, 0, len(codes))
	for _, code := range codes {
		if code.Position == nil {
			continue
		}
		zones = append(zones, ScanZone{
			Types: []string{string(code.Type)},
			Box:   code.Position.Normalize(container),
		})
	}
	return zones
}

// ServicesCardSerialZones is the layout of the Code 39 serial barcode on a
// CR-80 services card or driver's licence
var ServicesCardSerialZones = []ScanZone{
	{Types: []string{string(barcode.Code39)}, Box: geometry.Rect{X: 0.1, Y: 0.3, Width: 0.8, Height: 0.1}},
}
