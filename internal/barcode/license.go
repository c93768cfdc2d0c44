package barcode

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Licence barcodes carry the three AAMVA magnetic stripe tracks as text:
//
//	track 1: %CITY^LAST,$FIRST MIDDLE^STREET$CITY PROV POSTAL^?
//	track 2: ;IIN(6)LICENCE=YYMMYYYYMMDD=?
//	track 3: _additional data?
//
// Some cards put an extra ^ before the track 1 terminator and some do not,
// so track 2 is located by pattern rather than by field count.
var track2Pattern = regexp.MustCompile(`;\d{6}(\d+)=(\d{12})\d*=`)

// expiryCenturyBase is added to the two digit expiry year.
// TODO: expiry years past 2099 wrap back to 2000.
const expiryCenturyBase = 2000

func parseLicense(c Code) (LicenseMetadata, bool) {
	if c.Type != PDF417 || !strings.HasPrefix(c.Value, "%") || !strings.HasSuffix(c.Value, "?") {
		return LicenseMetadata{}, false
	}

	fields := strings.Split(c.Value, "^")
	if len(fields) < 3 {
		return LicenseMetadata{}, false
	}

	first, middle, last, ok := parseNames(fields[1])
	if !ok {
		return LicenseMetadata{}, false
	}
	street, city, province, postal, ok := parseAddress(fields[2])
	if !ok {
		return LicenseMetadata{}, false
	}

	m := track2Pattern.FindStringSubmatch(c.Value)
	if m == nil {
		return LicenseMetadata{}, false
	}
	birth, expiry, ok := parseDates(m[2])
	if !ok {
		return LicenseMetadata{}, false
	}

	return LicenseMetadata{
		LicenseNumber: strings.TrimSpace(m[1]),
		FirstName:     first,
		MiddleNames:   middle,
		LastName:      last,
		BirthDate:     birth,
		ExpiryDate:    expiry,
		StreetAddress: street,
		City:          city,
		Province:      province,
		PostalCode:    postal,
	}, true
}

// parseNames splits "LAST,$FIRST MIDDLE" into its parts
func parseNames(section string) (first, middle, last string, ok bool) {
	last, given, found := strings.Cut(section, ",")
	if !found {
		return "", "", "", false
	}
	names := strings.Fields(strings.ReplaceAll(given, "$", " "))
	last = normalize(last)
	if last == "" || len(names) == 0 {
		return "", "", "", false
	}
	return normalize(names[0]), normalize(strings.Join(names[1:], " ")), last, true
}

// parseAddress splits "STREET$CITY PROV POSTAL" into its parts
func parseAddress(section string) (street, city, province, postal string, ok bool) {
	if end := strings.Index(section, "?"); end != -1 {
		section = section[:end]
	}
	street, locality, found := strings.Cut(section, "$")
	if !found {
		return "", "", "", "", false
	}
	parts := strings.Split(locality, " ")
	if len(parts) < 3 {
		return "", "", "", "", false
	}
	street = normalize(street)
	city = normalize(parts[0])
	province = strings.TrimSpace(parts[1])
	postal = normalize(strings.Join(parts[2:], " "))
	if street == "" || city == "" || province == "" || postal == "" {
		return "", "", "", "", false
	}
	return street, city, province, postal, true
}

// parseDates reads the fixed-width date block YYMM (expiry) YYYYMMDD (birth).
// The expiry day is the birth day.
func parseDates(block string) (birth, expiry time.Time, ok bool) {
	expiryYear, err1 := strconv.Atoi(block[0:2])
	expiryMonth, err2 := strconv.Atoi(block[2:4])
	birthYear, err3 := strconv.Atoi(block[4:8])
	birthMonth, err4 := strconv.Atoi(block[8:10])
	birthDay, err5 := strconv.Atoi(block[10:12])
	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
	}
	if !validMonth(expiryMonth) || !validMonth(birthMonth) || birthDay < 1 || birthDay > 31 {
		return time.Time{}, time.Time{}, false
	}

	birth = time.Date(birthYear, time.Month(birthMonth), birthDay, 0, 0, 0, 0, time.UTC)
	expiry = time.Date(expiryCenturyBase+expiryYear, time.Month(expiryMonth), birthDay, 0, 0, 0, 0, time.UTC)
	return birth, expiry, true
}

func validMonth(m int) bool {
	return m >= 1 && m <= 12
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
