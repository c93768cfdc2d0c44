package scanning

import (
	"github.com/zombor/card-scanner/internal/barcode"
	"github.com/zombor/card-scanner/internal/geometry"
)

// Frame is one batch of detections from the camera along with the sizes
// needed to place them on screen. Sizes are nil until the layout is known.
type Frame struct {
	FrameSize  *geometry.Size      `json:"frame_size,omitempty"`
	Container  *geometry.Size      `json:"container,omitempty"`
	Window     *geometry.Size      `json:"window,omitempty"`
	Detections []barcode.Detection `json:"detections"`
}

// Codes returns the raw codes of the frame
func (f Frame) Codes() []barcode.Code {
	codes := make([]barcode.Code, 0, len(f.Detections))
	for _, d := range f.Detections {
		codes = append(codes, d.Code)
	}
	return codes
}

// Enhancer derives position, orientation, alignment and reading counts for
// each detection in a frame. One Enhancer follows one camera session.
type Enhancer struct {
	Platform            geometry.Platform
	Zones               []ScanZone
	FallbackZone        *geometry.Rect
	MarginFactor        float64
	ValidationThreshold int

	readings *ReadingTracker
}

// NewEnhancer creates an Enhancer with the platform's validation threshold
// and the default alignment margin
func NewEnhancer(platform geometry.Platform, zones []ScanZone) *Enhancer {
	return &Enhancer{
		Platform:            platform,
		Zones:               zones,
		MarginFactor:        DefaultMarginFactor,
		ValidationThreshold: ValidationThreshold(platform),
		readings:            NewReadingTracker(),
	}
}

// Enhance builds the enhanced codes of a frame. Readings of codes missing
// from the frame are dropped so a code must be seen in consecutive frames.
func (e *Enhancer) Enhance(f Frame) []barcode.EnhancedCode {
	if e.readings == nil {
		e.readings = NewReadingTracker()
	}

	seen := make(map[string]struct{}, len(f.Detections))
	codes := make([]barcode.EnhancedCode, 0, len(f.Detections))
	for _, d := range f.Detections {
		position := e.position(d, f)

		aligned := false
		if position != nil {
			aligned = IsAligned(*position, string(d.Type), f.Container, e.Zones, e.FallbackZone, e.MarginFactor)
		}

		count := e.readings.Observe(d.Code)
		if d.Value != "" {
			seen[d.Key()] = struct{}{}
		}

		codes = append(codes, barcode.EnhancedCode{
			Code:         d.Code,
			Position:     position,
			Orientation:  geometry.ClassifyOrientation(d.Corners),
			IsAligned:    aligned,
			IsValidated:  d.Value != "" && aligned && count >= e.ValidationThreshold,
			ReadingCount: count,
		})
	}
	e.readings.Prune(seen)
	return codes
}

// position maps the detection into container space, or returns the raw
// frame when the sizes needed for the transform are not known yet
func (e *Enhancer) position(d barcode.Detection, f Frame) *geometry.Rect {
	if d.Frame == nil {
		return nil
	}
	if f.FrameSize == nil || f.Container == nil {
		raw := *d.Frame
		return &raw
	}
	window := f.Container
	if f.Window != nil {
		window = f.Window
	}
	device := geometry.DeviceOrientationOf(*window)
	pos := geometry.TransformFrameToContainer(*d.Frame, *f.FrameSize, *f.Container, device, e.Platform)
	return &pos
}
