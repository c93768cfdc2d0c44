package cardscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/card-scanner/internal/barcode"
	"github.com/zombor/card-scanner/internal/geometry"
	"github.com/zombor/card-scanner/internal/scanning"
	"github.com/zombor/card-scanner/internal/session"
	"github.com/zombor/card-scanner/internal/stills"
)

var (
	// ErrSessionNotFound is returned for an unknown or expired session id
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotCalibrating is returned when zones are saved from a session
	// whose layout is not in calibration mode
	ErrNotCalibrating = errors.New("session is not calibrating scan zones")
	// ErrNotLocked is returned when zones are saved before the scan locked
	ErrNotLocked = errors.New("scan is not locked")
)

// IDGenerator generates unique session IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Completion is the card a session completed with
type Completion struct {
	Outcome     session.Outcome          `json:"outcome"`
	Serial      string                   `json:"serial,omitempty"`
	License     *barcode.LicenseMetadata `json:"license,omitempty"`
	CompletedAt time.Time                `json:"completed_at"`
}

// DecodedCode is the JSON view of a decoded barcode
type DecodedCode struct {
	Kind    barcode.Kind             `json:"kind"`
	Serial  string                   `json:"serial,omitempty"`
	License *barcode.LicenseMetadata `json:"license,omitempty"`
}

// SessionStatus describes a live session
type SessionStatus struct {
	ID         string             `json:"id"`
	Layout     string             `json:"layout"`
	Platform   geometry.Platform  `json:"platform"`
	State      scanning.ScanState `json:"state"`
	Completed  bool               `json:"completed"`
	Completion *Completion        `json:"completion,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// FrameReport is what one frame did to a session
type FrameReport struct {
	State        scanning.ScanState     `json:"state"`
	Codes        []barcode.EnhancedCode `json:"codes"`
	Qualifying   []barcode.EnhancedCode `json:"qualifying"`
	CoveredZones []int                  `json:"covered_zones"`
	Decoded      []DecodedCode          `json:"decoded"`
	Completed    bool                   `json:"completed"`
	Completion   *Completion            `json:"completion,omitempty"`
}

// StillReport holds the codes found in an uploaded image and the card they
// add up to, if any
type StillReport struct {
	Size       geometry.Size       `json:"size"`
	Detections []barcode.Detection `json:"detections"`
	Decoded    []DecodedCode       `json:"decoded"`
	Completion *Completion         `json:"completion,omitempty"`
}

// liveSession is one camera session. Its mutex serialises frames.
type liveSession struct {
	mu         sync.Mutex
	id         string
	layout     Layout
	platform   geometry.Platform
	enhancer   *scanning.Enhancer
	scan       *session.Session
	state      scanning.ScanState
	qualifying []barcode.EnhancedCode
	container  *geometry.Size
	completion *Completion
	createdAt  time.Time
	updatedAt  time.Time
}

func (l *liveSession) status() *SessionStatus {
	return &SessionStatus{
		ID:         l.id,
		Layout:     l.layout.Name,
		Platform:   l.platform,
		State:      l.state,
		Completed:  l.scan.Completed(),
		Completion: l.completion,
		CreatedAt:  l.createdAt,
		UpdatedAt:  l.updatedAt,
	}
}

// Service handles card layouts and scan sessions
type Service struct {
	db          DB
	detector    stills.Detector
	platform    geometry.Platform
	idGenerator IDGenerator
	timeSource  TimeSource

	mu       sync.Mutex
	sessions map[string]*liveSession
}

// NewService creates a new Service with UUID session ids and the wall clock
func NewService(db DB, detector stills.Detector, platform geometry.Platform) *Service {
	return NewServiceWithDeps(db, detector, platform, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, detector stills.Detector, platform geometry.Platform, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		detector:    detector,
		platform:    platform,
		idGenerator: idGen,
		timeSource:  timeSrc,
		sessions:    make(map[string]*liveSession),
	}
}

// recordingHandlers registers every completion and hands the result to record
func recordingHandlers(now func() time.Time, record func(*Completion)) session.Handlers {
	return session.Handlers{
		OnComboCard: func(_ context.Context, serial string, license barcode.LicenseMetadata) error {
			record(&Completion{Outcome: session.OutcomeComboCard, Serial: serial, License: &license, CompletedAt: now()})
			return nil
		},
		OnGovIDCard: func(_ context.Context, serial string) error {
			record(&Completion{Outcome: session.OutcomeGovIDCard, Serial: serial, CompletedAt: now()})
			return nil
		},
		OnLicenseCard: func(_ context.Context, license barcode.LicenseMetadata) error {
			record(&Completion{Outcome: session.OutcomeLicense, License: &license, CompletedAt: now()})
			return nil
		},
	}
}

func describeDecoded(decoded []barcode.Decoded) []DecodedCode {
	out := make([]DecodedCode, 0, len(decoded))
	for _, d := range decoded {
		view := DecodedCode{Kind: d.Kind()}
		switch c := d.(type) {
		case barcode.ComboCardCode:
			view.Serial = c.Serial
			view.License = &c.LicenseMetadata
		case barcode.LicenseCode:
			view.License = &c.LicenseMetadata
		case barcode.GovIDSerialCode:
			view.Serial = c.Serial
		}
		out = append(out, view)
	}
	return out
}

// StartSession opens a scan session against a stored layout. An empty
// platform uses the service default.
func (s *Service) StartSession(layoutName string, platform geometry.Platform) (*SessionStatus, error) {
	layout, err := s.db.GetLayout(layoutName)
	if err != nil {
		return nil, fmt.Errorf("getting layout: %w", err)
	}
	if platform == "" {
		platform = s.platform
	}

	now := s.timeSource.Now()
	enhancer := scanning.NewEnhancer(platform, layout.Zones)
	enhancer.MarginFactor = layout.MarginFactor

	entry := &liveSession{
		id:        s.idGenerator.Generate(),
		layout:    *layout,
		platform:  platform,
		enhancer:  enhancer,
		state:     scanning.StateScanning,
		createdAt: now,
		updatedAt: now,
	}
	entry.scan = session.New(recordingHandlers(s.timeSource.Now, func(c *Completion) {
		entry.completion = c
		slog.Info("Card scan completed", "session", entry.id, "outcome", c.Outcome)
	}))

	s.mu.Lock()
	s.sessions[entry.id] = entry
	s.mu.Unlock()

	slog.Info("Started scan session", "session", entry.id, "layout", layout.Name, "platform", platform)
	return entry.status(), nil
}

func (s *Service) lookup(id string) (*liveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return entry, nil
}

// GetSession returns the status of a live session
func (s *Service) GetSession(id string) (*SessionStatus, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.status(), nil
}

// EndSession discards a session
func (s *Service) EndSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	return nil
}

// ExpireSessions discards sessions that have not seen a frame for maxAge
// and returns how many were removed
func (s *Service) ExpireSessions(maxAge time.Duration) int {
	cutoff := s.timeSource.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.sessions {
		entry.mu.Lock()
		stale := entry.updatedAt.Before(cutoff)
		entry.mu.Unlock()
		if stale {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// ProcessFrame runs one camera frame through the session: the detections are
// placed and checked against the layout's zones, the scan state is
// recomputed, and the decoded codes are handed to the aggregator. Alignment
// and decoding are independent; a card completes as soon as its codes are
// read, whether or not they were aligned.
func (s *Service) ProcessFrame(ctx context.Context, id string, frame scanning.Frame) (*FrameReport, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	codes := entry.enhancer.Enhance(frame)
	result := scanning.Reduce(codes, entry.layout.StateOptions())
	covered := scanning.CoveredZones(codes, frame.Container, entry.layout.Zones, entry.layout.MarginFactor)

	if result.State != entry.state {
		slog.Debug("Scan state changed", "session", id, "from", entry.state, "to", result.State)
	}
	entry.state = result.State
	entry.qualifying = result.Qualifying
	entry.container = nil
	if frame.FrameSize != nil && frame.Container != nil {
		container := *frame.Container
		entry.container = &container
	}
	entry.updatedAt = s.timeSource.Now()

	scanned, err := entry.scan.ProcessFrame(ctx, frame.Codes())
	if err != nil {
		return nil, fmt.Errorf("processing frame: %w", err)
	}

	return &FrameReport{
		State:        result.State,
		Codes:        codes,
		Qualifying:   result.Qualifying,
		CoveredZones: covered,
		Decoded:      describeDecoded(scanned.Decoded),
		Completed:    scanned.Completed,
		Completion:   entry.completion,
	}, nil
}

// SaveCalibratedZones turns the codes of a locked calibration frame into a
// new layout stored under name
func (s *Service) SaveCalibratedZones(id, name string) (*Layout, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.layout.EnableScanZones {
		return nil, ErrNotCalibrating
	}
	if entry.state != scanning.StateLocked {
		return nil, ErrNotLocked
	}
	if entry.container == nil {
		return nil, fmt.Errorf("%w: container size unknown", ErrNotLocked)
	}

	layout := withDefaults(Layout{
		Name:                 name,
		Zones:                scanning.ZonesFromCodes(entry.qualifying, *entry.container),
		LockReadingThreshold: entry.layout.LockReadingThreshold,
		MarginFactor:         entry.layout.MarginFactor,
	})
	saved, err := s.SaveLayout(layout)
	if err != nil {
		return nil, err
	}
	slog.Info("Saved calibrated scan zones", "session", id, "layout", name, "zones", len(saved.Zones))
	return saved, nil
}

// SaveLayout validates and stores a layout
func (s *Service) SaveLayout(layout Layout) (*Layout, error) {
	layout = withDefaults(layout)
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	layout.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveLayout(&layout); err != nil {
		return nil, fmt.Errorf("saving layout: %w", err)
	}
	return &layout, nil
}

// SeedLayouts stores layouts at startup. Existing layouts are only replaced
// when overwrite is set.
func (s *Service) SeedLayouts(layouts []Layout, overwrite bool) error {
	for _, layout := range layouts {
		if !overwrite {
			_, err := s.db.GetLayout(layout.Name)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrLayoutNotFound) {
				return fmt.Errorf("checking layout %s: %w", layout.Name, err)
			}
		}
		if _, err := s.SaveLayout(layout); err != nil {
			return fmt.Errorf("seeding layout %s: %w", layout.Name, err)
		}
	}
	return nil
}

// GetLayout retrieves a layout by name
func (s *Service) GetLayout(name string) (*Layout, error) {
	layout, err := s.db.GetLayout(name)
	if err != nil {
		return nil, fmt.Errorf("getting layout: %w", err)
	}
	return layout, nil
}

// ListLayouts returns all layouts
func (s *Service) ListLayouts() ([]*Layout, error) {
	layouts, err := s.db.ListLayouts()
	if err != nil {
		return nil, fmt.Errorf("listing layouts: %w", err)
	}
	return layouts, nil
}

// DeleteLayout removes a layout. Running sessions keep their copy.
func (s *Service) DeleteLayout(name string) error {
	if err := s.db.DeleteLayout(name); err != nil {
		return fmt.Errorf("deleting layout: %w", err)
	}
	return nil
}

// ScanStill finds the barcodes in an uploaded image and runs them through a
// one-frame session
func (s *Service) ScanStill(ctx context.Context, data []byte, contentType string) (*StillReport, error) {
	still, err := s.detector.Detect(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to scan still image",
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("detecting barcodes: %w", err)
	}

	report := &StillReport{Size: still.Size, Detections: still.Detections}
	scan := session.New(recordingHandlers(s.timeSource.Now, func(c *Completion) {
		report.Completion = c
	}))
	codes := scanning.Frame{Detections: still.Detections}.Codes()
	result, err := scan.ProcessFrame(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("processing still: %w", err)
	}
	report.Decoded = describeDecoded(result.Decoded)
	return report, nil
}
