package barcode

import (
	"errors"
	"fmt"
	"time"
)

// ErrUndecodable is returned when Decode is called for a code that the
// decoder's CanDecode rejects. Callers must check CanDecode first.
var ErrUndecodable = errors.New("code cannot be decoded")

// Kind identifies a decoded payload format
type Kind string

const (
	KindComboCard      Kind = "ComboCard"
	KindDriversLicense Kind = "DriversLicense"
	KindGovIDSerial    Kind = "GovIDSerial"
)

// decodePriority is the order decoders are tried in. Combo cards carry a
// licence payload too, so they must be claimed before the licence decoder.
var decodePriority = []Kind{KindComboCard, KindDriversLicense, KindGovIDSerial}

// LicenseMetadata is the cardholder data read from a licence barcode
type LicenseMetadata struct {
	LicenseNumber string    `json:"license_number"`
	FirstName     string    `json:"first_name"`
	MiddleNames   string    `json:"middle_names"`
	LastName      string    `json:"last_name"`
	BirthDate     time.Time `json:"birth_date"`
	ExpiryDate    time.Time `json:"expiry_date"`
	StreetAddress string    `json:"street_address"`
	City          string    `json:"city"`
	Province      string    `json:"province"`
	PostalCode    string    `json:"postal_code"`
}

// Decoded is the result of decoding a code. It is one of GovIDSerialCode,
// LicenseCode or ComboCardCode.
type Decoded interface {
	Kind() Kind
	sealed()
}

// GovIDSerialCode is a government photo-ID serial number
type GovIDSerialCode struct {
	Serial string `json:"serial"`
}

func (GovIDSerialCode) Kind() Kind { return KindGovIDSerial }
func (GovIDSerialCode) sealed()    {}

// LicenseCode is a driver's licence barcode
type LicenseCode struct {
	LicenseMetadata
}

func (LicenseCode) Kind() Kind { return KindDriversLicense }
func (LicenseCode) sealed()    {}

// ComboCardCode is a single barcode carrying both licence data and a serial
type ComboCardCode struct {
	Serial string `json:"serial"`
	LicenseMetadata
}

func (ComboCardCode) Kind() Kind { return KindComboCard }
func (ComboCardCode) sealed()    {}

// CanDecode reports whether this decoder accepts the code
func (k Kind) CanDecode(c Code) bool {
	switch k {
	case KindComboCard:
		_, _, ok := parseComboCard(c)
		return ok
	case KindDriversLicense:
		_, ok := parseLicense(c)
		return ok
	case KindGovIDSerial:
		return canDecodeSerial(c)
	}
	return false
}

// Decode decodes the code. It fails with ErrUndecodable when CanDecode would
// return false; it never attempts a partial parse.
func (k Kind) Decode(c Code) (Decoded, error) {
	switch k {
	case KindComboCard:
		license, serial, ok := parseComboCard(c)
		if !ok {
			return nil, fmt.Errorf("decoding combo card barcode: %w", ErrUndecodable)
		}
		return ComboCardCode{Serial: serial, LicenseMetadata: license}, nil
	case KindDriversLicense:
		license, ok := parseLicense(c)
		if !ok {
			return nil, fmt.Errorf("decoding driver's licence barcode: %w", ErrUndecodable)
		}
		return LicenseCode{LicenseMetadata: license}, nil
	case KindGovIDSerial:
		if !canDecodeSerial(c) {
			return nil, fmt.Errorf("decoding serial barcode: %w", ErrUndecodable)
		}
		return GovIDSerialCode{Serial: c.Value}, nil
	}
	return nil, fmt.Errorf("unknown decoder %q: %w", k, ErrUndecodable)
}

// DecodeScannedCode tries each decoder in priority order and returns the
// first successful decode. ok is false when no decoder accepts the code.
func DecodeScannedCode(c Code) (Decoded, bool) {
	for _, k := range decodePriority {
		if !k.CanDecode(c) {
			continue
		}
		decoded, err := k.Decode(c)
		if err != nil {
			return nil, false
		}
		return decoded, true
	}
	return nil, false
}
