package barcode

import (
	"regexp"
	"strings"
)

// SerialLength is the maximum length of a government photo-ID serial
const SerialLength = 9

// Serials start with one or more letters followed by digits, e.g. S00023254
var serialPattern = regexp.MustCompile(`^[A-Za-z]+[0-9]+$`)

// IsGovIDSerial reports whether s is a valid government photo-ID serial
func IsGovIDSerial(s string) bool {
	return len(s) <= SerialLength && serialPattern.MatchString(s)
}

func canDecodeSerial(c Code) bool {
	return (c.Type == Code39 || c.Type == Code128) && IsGovIDSerial(c.Value)
}

// Combo cards issued from 2025 put the serial at the end of the licence
// barcode's track 3, e.g. "...BRNBLU                          00S00023254?".
func parseComboCard(c Code) (LicenseMetadata, string, bool) {
	license, ok := parseLicense(c)
	if !ok {
		return LicenseMetadata{}, "", false
	}
	serial, ok := extractComboSerial(c.Value)
	if !ok {
		return LicenseMetadata{}, "", false
	}
	return license, serial, true
}

func extractComboSerial(value string) (string, bool) {
	tokens := strings.Split(value, " ")
	raw := strings.TrimSuffix(tokens[len(tokens)-1], "?")
	if raw == "" {
		return "", false
	}
	if len(raw) > SerialLength {
		raw = raw[len(raw)-SerialLength:]
	}
	if !IsGovIDSerial(raw) {
		return "", false
	}
	return raw, true
}
