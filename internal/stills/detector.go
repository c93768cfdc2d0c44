package stills

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"

	"github.com/zombor/card-scanner/internal/barcode"
	"github.com/zombor/card-scanner/internal/geometry"
)

// Still is the set of codes found in one image
type Still struct {
	Size       geometry.Size       `json:"size"`
	Detections []barcode.Detection `json:"detections"`
}

// Detector finds barcodes in an uploaded image
type Detector interface {
	Detect(ctx context.Context, data []byte, contentType string) (*Still, error)
}

type symbologyReader struct {
	symbology barcode.Symbology
	reader    gozxing.Reader
}

// ZXing detects the linear serial barcodes printed on ID cards
type ZXing struct {
	readers []symbologyReader
}

// NewZXing creates a ZXing detector for Code 128 and Code 39
func NewZXing() *ZXing {
	return &ZXing{
		readers: []symbologyReader{
			{symbology: barcode.Code128, reader: oned.NewCode128Reader()},
			{symbology: barcode.Code39, reader: oned.NewCode39Reader()},
		},
	}
}

// Detect decodes the image and runs every reader over it. A reader that
// finds nothing is not an error.
func (z *ZXing) Detect(ctx context.Context, data []byte, contentType string) (*Still, error) {
	img, err := decodeImage(data, contentType)
	if err != nil {
		return nil, err
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("binarizing image: %w", err)
	}

	bounds := img.Bounds()
	still := &Still{
		Size:       geometry.Size{Width: float64(bounds.Dx()), Height: float64(bounds.Dy())},
		Detections: make([]barcode.Detection, 0),
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	for _, r := range z.readers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := r.reader.Decode(bmp, hints)
		if err != nil {
			slog.Debug("No barcode found", "symbology", r.symbology, "error", err)
			continue
		}
		still.Detections = append(still.Detections, toDetection(r.symbology, result))
	}
	return still, nil
}

// toDetection converts a reader result. Linear readers report the two ends
// of the scan line, so the frame is the box around the result points.
func toDetection(symbology barcode.Symbology, result *gozxing.Result) barcode.Detection {
	points := result.GetResultPoints()
	corners := make([]geometry.Point, 0, len(points))
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		x, y := p.GetX(), p.GetY()
		corners = append(corners, geometry.Point{X: x, Y: y})
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}

	d := barcode.Detection{
		Code:    barcode.Code{Type: symbology, Value: result.GetText()},
		Corners: corners,
	}
	if len(points) > 0 {
		d.Frame = &geometry.Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
	}
	return d
}
