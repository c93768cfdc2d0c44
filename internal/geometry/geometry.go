package geometry

import "math"

// DefaultHighlightPad is the padding added around highlights on Android
const DefaultHighlightPad = 8.0

// Rect is an axis-aligned box, either normalized (0-1) or in absolute pixels
type Rect struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Point is a single corner reported by a detector
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size holds the dimensions of a frame, container or window
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Denormalize converts a normalized rect into absolute coordinates of the given size
func (r Rect) Denormalize(s Size) Rect {
	return Rect{
		X:      r.X * s.Width,
		Y:      r.Y * s.Height,
		Width:  r.Width * s.Width,
		Height: r.Height * s.Height,
	}
}

// Normalize converts an absolute rect into 0-1 fractions of the given size
func (r Rect) Normalize(s Size) Rect {
	if s.Width == 0 || s.Height == 0 {
		return Rect{}
	}
	return Rect{
		X:      r.X / s.Width,
		Y:      r.Y / s.Height,
		Width:  r.Width / s.Width,
		Height: r.Height / s.Height,
	}
}

// Expand grows the rect by dx on the left and right and dy on the top and bottom
func (r Rect) Expand(dx, dy float64) Rect {
	return Rect{
		X:      r.X - dx,
		Y:      r.Y - dy,
		Width:  r.Width + dx*2,
		Height: r.Height + dy*2,
	}
}

// Contains reports whether inner lies fully inside r. Edges count as inside.
func (r Rect) Contains(inner Rect) bool {
	return inner.X >= r.X &&
		inner.Y >= r.Y &&
		inner.X+inner.Width <= r.X+r.Width &&
		inner.Y+inner.Height <= r.Y+r.Height
}

// Platform identifies the native detector pipeline that produced a frame
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// ParsePlatform maps a configuration value to a Platform
func ParsePlatform(s string) (Platform, bool) {
	switch Platform(s) {
	case PlatformIOS:
		return PlatformIOS, true
	case PlatformAndroid:
		return PlatformAndroid, true
	}
	return "", false
}

// DeviceOrientation is the physical orientation of the device
type DeviceOrientation string

const (
	DevicePortrait  DeviceOrientation = "portrait"
	DeviceLandscape DeviceOrientation = "landscape"
)

// DeviceOrientationOf derives the device orientation from the window dimensions.
// The camera container can be wider than tall in portrait because of surrounding UI.
func DeviceOrientationOf(window Size) DeviceOrientation {
	if window.Height > window.Width {
		return DevicePortrait
	}
	return DeviceLandscape
}

// Orientation describes which way a barcode runs
type Orientation string

const (
	Horizontal Orientation = "horizontal"
	Vertical   Orientation = "vertical"
)

// ClassifyOrientation calculates barcode orientation from its corner points.
// Without enough corners to measure both axes the code is assumed horizontal.
func ClassifyOrientation(corners []Point) Orientation {
	if len(corners) < 3 {
		return Horizontal
	}
	width := math.Abs(corners[1].X - corners[0].X)
	height := math.Abs(corners[2].Y - corners[0].Y)
	if width > height {
		return Horizontal
	}
	return Vertical
}

// ClampZoom clamps a zoom level to the device's supported range
func ClampZoom(target, min, max float64) float64 {
	return math.Max(min, math.Min(target, max))
}

// PadHighlight expands a highlight box on Android to include the quiet zones
// that ML Kit's bounding box omits. Other platforms get the box back unchanged.
func PadHighlight(platform Platform, r Rect, pad float64) Rect {
	if platform != PlatformAndroid {
		return r
	}
	return r.Expand(pad, pad)
}
