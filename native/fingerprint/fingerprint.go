// Package fingerprint mints and recognizes deterministic provenance tokens
// bound to generated project artifacts. Minting and detection are pure with
// respect to contract state: detection reports evidence, callers decide what
// to do with a match.
package fingerprint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"lukechampine.com/blake3"
)

// SchemaVersion is folded into every token so future digest changes never
// collide with previously minted fingerprints.
const SchemaVersion = "v1"

const (
	markerPrefix = "/* provenance:attrib:" + SchemaVersion + ":"
	markerSuffix = " */"
)

var (
	// ErrProjectRequired is returned when the project identifier is blank.
	ErrProjectRequired = errors.New("fingerprint service: project id required")

	errNilState = errors.New("fingerprint service: state not configured")
)

// Fingerprint is a provenance token bound to one project. It is minted once
// at first artifact delivery and immutable thereafter.
type Fingerprint struct {
	ProjectID     string    `json:"projectId"`
	Token         string    `json:"token"`
	EmbeddedForm  string    `json:"embeddedForm"`
	SchemaVersion string    `json:"schemaVersion"`
	MintedAt      time.Time `json:"mintedAt"`
}

// Clone returns a copy of the fingerprint.
func (f *Fingerprint) Clone() *Fingerprint {
	if f == nil {
		return nil
	}
	clone := *f
	return &clone
}

// Detection is the outcome of scanning a text sample for embedded markers.
type Detection struct {
	Matched     bool         `json:"matched"`
	Fingerprint *Fingerprint `json:"fingerprint,omitempty"`
	Confidence  float64      `json:"confidence"`
}

// State persists one fingerprint record per project.
type State interface {
	FingerprintGet(projectID string) (*Fingerprint, bool, error)
	FingerprintPut(fp *Fingerprint) error
	FingerprintByToken(token string) (*Fingerprint, bool, error)
}

// Service mints, embeds, and detects fingerprints.
type Service struct {
	state State
	nowFn func() time.Time

	mintMu sync.Mutex
}

// ServiceOption customises the service instance.
type ServiceOption func(*Service)

// WithClock overrides the time source used for deterministic testing.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewService constructs a fingerprint service backed by the supplied state.
func NewService(state State, opts ...ServiceOption) *Service {
	s := &Service{state: state, nowFn: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mint derives the project's provenance token. The token is a BLAKE3 digest
// over the project id, the minting timestamp captured once, and the schema
// version. Repeated calls for the same project return the previously minted
// fingerprint rather than a new one.
func (s *Service) Mint(projectID string) (*Fingerprint, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, ErrProjectRequired
	}

	s.mintMu.Lock()
	defer s.mintMu.Unlock()

	if existing, ok, err := s.state.FingerprintGet(projectID); err != nil {
		return nil, err
	} else if ok && existing != nil {
		return existing.Clone(), nil
	}

	mintedAt := s.nowFn().UTC()
	digest := blake3.Sum256([]byte(SchemaVersion + "|" + projectID + "|" + mintedAt.Format(time.RFC3339Nano)))
	token := hex.EncodeToString(digest[:])
	fp := &Fingerprint{
		ProjectID:     projectID,
		Token:         token,
		EmbeddedForm:  markerPrefix + token + markerSuffix,
		SchemaVersion: SchemaVersion,
		MintedAt:      mintedAt,
	}
	if err := s.state.FingerprintPut(fp); err != nil {
		return nil, err
	}
	return fp.Clone(), nil
}

// Get returns the minted fingerprint for the project, if any.
func (s *Service) Get(projectID string) (*Fingerprint, bool, error) {
	if s == nil || s.state == nil {
		return nil, false, errNilState
	}
	return s.state.FingerprintGet(strings.TrimSpace(projectID))
}

// Embed appends the human-visible marker to delivered content. The marker is
// append-only and sits in a comment position so the functional content is
// never altered structurally. Embed is pure: it has no side effects.
func Embed(content string, fp *Fingerprint) string {
	if fp == nil || fp.EmbeddedForm == "" {
		return content
	}
	if strings.Contains(content, fp.EmbeddedForm) {
		return content
	}
	if content == "" {
		return fp.EmbeddedForm
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + fp.EmbeddedForm + "\n"
}

// Detect scans the sample for any known embedded marker. An exact marker whose
// token matches a minted fingerprint yields confidence 1.0; anything else
// reports no match. Detection never mutates contract state.
func (s *Service) Detect(sampleText string) (*Detection, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	rest := sampleText
	for {
		start := strings.Index(rest, markerPrefix)
		if start < 0 {
			return &Detection{Matched: false, Confidence: 0}, nil
		}
		rest = rest[start+len(markerPrefix):]
		end := strings.Index(rest, markerSuffix)
		if end < 0 {
			return &Detection{Matched: false, Confidence: 0}, nil
		}
		token := rest[:end]
		rest = rest[end+len(markerSuffix):]
		fp, ok, err := s.state.FingerprintByToken(token)
		if err != nil {
			return nil, fmt.Errorf("lookup token: %w", err)
		}
		if ok && fp != nil {
			return &Detection{Matched: true, Fingerprint: fp.Clone(), Confidence: 1.0}, nil
		}
	}
}
