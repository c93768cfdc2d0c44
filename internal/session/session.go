// Package session aggregates decoded barcodes across camera frames into a
// single completed card scan.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zombor/card-scanner/internal/barcode"
)

// Handlers are the completion callbacks of a session. A nil handler is not
// registered and its completion is skipped.
type Handlers struct {
	// OnComboCard is called when both a serial and licence data are known
	OnComboCard func(ctx context.Context, serial string, license barcode.LicenseMetadata) error
	// OnGovIDCard is called when only a serial is known
	OnGovIDCard func(ctx context.Context, serial string) error
	// OnLicenseCard is called when only licence data is known
	OnLicenseCard func(ctx context.Context, license barcode.LicenseMetadata) error
}

// Outcome names the completion that fired
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeComboCard Outcome = "combo_card"
	OutcomeGovIDCard Outcome = "gov_id_card"
	OutcomeLicense   Outcome = "license_card"
)

// Result describes what a frame did to the session
type Result struct {
	Decoded   []barcode.Decoded
	Completed bool
	Outcome   Outcome
}

// Session holds the state of one physical scan attempt. It is not safe for
// concurrent use; frames must be delivered one at a time.
type Session struct {
	handlers  Handlers
	serial    *string
	license   *barcode.LicenseMetadata
	completed bool
}

// New creates a new Session
func New(handlers Handlers) *Session {
	return &Session{handlers: handlers}
}

// Completed reports whether a completion callback has fired
func (s *Session) Completed() bool {
	return s.completed
}

// Serial returns the most recently decoded serial
func (s *Session) Serial() (string, bool) {
	if s.serial == nil {
		return "", false
	}
	return *s.serial, true
}

// License returns the most recently decoded licence data
func (s *Session) License() (barcode.LicenseMetadata, bool) {
	if s.license == nil {
		return barcode.LicenseMetadata{}, false
	}
	return *s.license, true
}

// ProcessFrame decodes the codes of one frame, records what they carry and
// fires at most one completion. Once the session has completed every
// further frame is ignored. An error from the completion callback is
// returned, but the session stays completed.
func (s *Session) ProcessFrame(ctx context.Context, codes []barcode.Code) (Result, error) {
	if s.completed {
		return Result{Completed: true}, nil
	}

	var result Result
	for _, code := range codes {
		decoded, ok := barcode.DecodeScannedCode(code)
		if !ok {
			slog.Debug("No decoder for scanned code", "type", code.Type, "length", len(code.Value))
			continue
		}
		slog.Debug("Decoded scanned code", "kind", decoded.Kind())
		result.Decoded = append(result.Decoded, decoded)

		switch d := decoded.(type) {
		case barcode.ComboCardCode:
			serial, license := d.Serial, d.LicenseMetadata
			s.serial, s.license = &serial, &license
		case barcode.LicenseCode:
			license := d.LicenseMetadata
			s.license = &license
		case barcode.GovIDSerialCode:
			serial := d.Serial
			s.serial = &serial
		}
	}

	fire := s.completion()
	if fire == nil {
		return result, nil
	}

	s.completed = true
	result.Completed = true
	outcome, err := fire(ctx)
	result.Outcome = outcome
	if err != nil {
		return result, fmt.Errorf("completing %s scan: %w", outcome, err)
	}
	return result, nil
}

// completion picks the first registered callback whose data is available,
// in priority order combo, serial, licence
func (s *Session) completion() func(context.Context) (Outcome, error) {
	h := s.handlers
	switch {
	case s.serial != nil && s.license != nil && h.OnComboCard != nil:
		serial, license := *s.serial, *s.license
		return func(ctx context.Context) (Outcome, error) {
			return OutcomeComboCard, h.OnComboCard(ctx, serial, license)
		}
	case s.serial != nil && h.OnGovIDCard != nil:
		serial := *s.serial
		return func(ctx context.Context) (Outcome, error) {
			return OutcomeGovIDCard, h.OnGovIDCard(ctx, serial)
		}
	case s.license != nil && h.OnLicenseCard != nil:
		license := *s.license
		return func(ctx context.Context) (Outcome, error) {
			return OutcomeLicense, h.OnLicenseCard(ctx, license)
		}
	}
	return nil
}
