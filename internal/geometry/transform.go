package geometry

import "math"

// axisCorrection is the fix applied to a frame before cover scaling
type axisCorrection int

const (
	correctNone axisCorrection = iota
	// iOS reports bounds normalized against landscape video dimensions
	correctRemapNormalized
	// Android reports rotated boxes but unrotated frame dimensions
	correctSwapFrameSize
)

var axisCorrections = map[DeviceOrientation]map[Platform]axisCorrection{
	DevicePortrait: {
		PlatformIOS:     correctRemapNormalized,
		PlatformAndroid: correctSwapFrameSize,
	},
	DeviceLandscape: {
		PlatformIOS:     correctNone,
		PlatformAndroid: correctNone,
	},
}

func correctionFor(device DeviceOrientation, platform Platform, frameSize Size) axisCorrection {
	c := axisCorrections[device][platform]
	if c == correctSwapFrameSize && frameSize.Width <= frameSize.Height {
		return correctNone
	}
	return c
}

// TransformFrameToContainer maps a code's bounding box from camera frame space
// into the preview container. The preview is rendered in cover mode: uniform
// scale to fill, overflow cropped equally on both sides.
func TransformFrameToContainer(frame Rect, frameSize, container Size, device DeviceOrientation, platform Platform) Rect {
	fw, fh := frameSize.Width, frameSize.Height
	f := frame

	switch correctionFor(device, platform, frameSize) {
	case correctRemapNormalized:
		normX := frame.X / frameSize.Width
		normY := frame.Y / frameSize.Height
		normW := frame.Width / frameSize.Width
		normH := frame.Height / frameSize.Height

		fw = math.Min(frameSize.Width, frameSize.Height)
		fh = math.Max(frameSize.Width, frameSize.Height)

		// sensor Y becomes display X (mirrored), sensor X becomes display Y
		f = Rect{
			X:      (1 - normY - normH) * fw,
			Y:      normX * fh,
			Width:  normH * fw,
			Height: normW * fh,
		}
	case correctSwapFrameSize:
		fw, fh = frameSize.Height, frameSize.Width
	}

	scale := math.Max(container.Width/fw, container.Height/fh)
	offsetX := (container.Width - fw*scale) / 2
	offsetY := (container.Height - fh*scale) / 2

	return Rect{
		X:      f.X*scale + offsetX,
		Y:      f.Y*scale + offsetY,
		Width:  f.Width * scale,
		Height: f.Height * scale,
	}
}
