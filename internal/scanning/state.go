package scanning

import "github.com/zombor/card-scanner/internal/barcode"

// DefaultLockReadingThreshold is the number of consecutive identical reads
// every qualifying code needs before the scan locks
const DefaultLockReadingThreshold = 5

// ScanState is the collective state of the codes in a frame
type ScanState string

const (
	StateScanning ScanState = "scanning"
	StateAligned  ScanState = "aligned"
	StateLocked   ScanState = "locked"
)

// StateOptions controls the thresholds of Reduce
type StateOptions struct {
	// EnableScanZones is calibration mode: every identified code qualifies
	EnableScanZones      bool
	MinCodesForAligned   int
	LockReadingThreshold int
}

// StateResult is the state of one frame and the codes that drove it
type StateResult struct {
	State      ScanState              `json:"state"`
	Qualifying []barcode.EnhancedCode `json:"qualifying"`
}

// Reduce computes the scan state of the current frame. It holds no state of
// its own; callers invoke it for every frame.
//
//   - scanning: fewer than MinCodesForAligned qualifying codes
//   - aligned:  enough qualifying codes, not yet read consistently
//   - locked:   every qualifying code read at least LockReadingThreshold times
func Reduce(codes []barcode.EnhancedCode, opts StateOptions) StateResult {
	qualifying := make([]barcode.EnhancedCode, 0, len(codes))
	for _, c := range codes {
		if c.Value == "" {
			continue
		}
		if !opts.EnableScanZones && !c.IsAligned {
			continue
		}
		qualifying = append(qualifying, c)
	}

	enough := len(qualifying) >= opts.MinCodesForAligned
	locked := enough
	for _, c := range qualifying {
		if c.ReadingCount < opts.LockReadingThreshold {
			locked = false
			break
		}
	}

	state := StateScanning
	switch {
	case locked:
		state = StateLocked
	case enough:
		state = StateAligned
	}
	return StateResult{State: state, Qualifying: qualifying}
}
