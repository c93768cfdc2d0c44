// Package barcode holds the barcode data model and the decoders for the
// payloads found on government photo-ID and driver's licence cards.
package barcode

import (
	"fmt"

	"github.com/zombor/card-scanner/internal/geometry"
)

// Symbology is the barcode format reported by a detector
type Symbology string

const (
	Code128    Symbology = "code-128"
	Code39     Symbology = "code-39"
	Code93     Symbology = "code-93"
	Codabar    Symbology = "codabar"
	EAN13      Symbology = "ean-13"
	EAN8       Symbology = "ean-8"
	ITF        Symbology = "itf"
	UPCE       Symbology = "upc-e"
	UPCA       Symbology = "upc-a"
	QR         Symbology = "qr"
	PDF417     Symbology = "pdf-417"
	Aztec      Symbology = "aztec"
	DataMatrix Symbology = "data-matrix"
	Unknown    Symbology = "unknown"
)

// Code is one raw detection in a frame. An empty Value means the detector
// saw a code but could not read it.
type Code struct {
	Type  Symbology `json:"type"`
	Value string    `json:"value,omitempty"`
}

// Key identifies consecutive reads of the same code
func (c Code) Key() string {
	return fmt.Sprintf("%s-%s", c.Type, c.Value)
}

// Detection is a Code as delivered by the camera, with its raw geometry in
// sensor space
type Detection struct {
	Code
	Frame   *geometry.Rect   `json:"frame,omitempty"`
	Corners []geometry.Point `json:"corners,omitempty"`
}

// EnhancedCode is a Code with the frame-local metadata derived for it
type EnhancedCode struct {
	Code
	Position     *geometry.Rect       `json:"position,omitempty"` // container space
	Orientation  geometry.Orientation `json:"orientation"`
	IsAligned    bool                 `json:"is_aligned"`
	IsValidated  bool                 `json:"is_validated"`
	ReadingCount int                  `json:"reading_count"`
}
