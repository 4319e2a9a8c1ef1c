package domain

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxErrorMessage bounds the error text stored in a finality.
const MaxErrorMessage = 2000

// FinalityType tags a terminal job outcome.
type FinalityType string

const (
	FinalitySuccess FinalityType = "success"
	FinalityError   FinalityType = "error"
)

// Finality is the terminal outcome of a job. Success fields are set only for
// FinalitySuccess, Message only for FinalityError.
type Finality struct {
	Type         FinalityType `json:"type"`
	URL          string       `json:"url,omitempty"`
	OutputSize   int64        `json:"outputSize,omitempty"`
	ReportedCost float64      `json:"reportedCost,omitempty"`
	Message      string       `json:"message,omitempty"`
}

// SuccessFinality builds a success outcome.
func SuccessFinality(url string, outputSize int64, reportedCost float64) *Finality {
	return &Finality{
		Type:         FinalitySuccess,
		URL:          url,
		OutputSize:   outputSize,
		ReportedCost: reportedCost,
	}
}

// ErrorFinality builds an error outcome. Long messages are truncated.
func ErrorFinality(message string) *Finality {
	return &Finality{Type: FinalityError, Message: truncate(message, MaxErrorMessage)}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// JobRecord is the persisted state of one render job. Finality is nil while
// the render is outstanding and is set exactly once.
type JobRecord struct {
	ID        uuid.UUID
	Subject   string
	Variant   Variant
	CreatedAt time.Time
	Finality  *Finality
}

// NewJobRecord creates a pending record for key.
func NewJobRecord(key JobKey, now time.Time) JobRecord {
	return JobRecord{
		ID:        uuid.New(),
		Subject:   key.Subject,
		Variant:   key.Variant,
		CreatedAt: now.UTC(),
	}
}

// Key returns the record's JobKey.
func (r JobRecord) Key() JobKey {
	return JobKey{Subject: r.Subject, Variant: r.Variant}
}

// Terminal reports whether the record carries a finality.
func (r JobRecord) Terminal() bool {
	return r.Finality != nil
}

// AssetKind names a derived still image.
type AssetKind string

const (
	// AssetOGImage is the share image.
	AssetOGImage AssetKind = "og-image"
	// AssetIGStory is the story image.
	AssetIGStory AssetKind = "ig-story"
)

// AssetKinds lists every derived asset produced for a subject.
var AssetKinds = []AssetKind{AssetOGImage, AssetIGStory}

// Composition is the render engine composition that draws the asset.
func (k AssetKind) Composition() string {
	return string(k)
}

// ObjectKey is the storage key of the asset for subject.
func (k AssetKind) ObjectKey(subject string) string {
	switch k {
	case AssetIGStory:
		return "ig/" + subject + ".jpg"
	default:
		return "og/" + subject + ".jpg"
	}
}

// DerivedAsset is a still image produced once per subject and kind.
type DerivedAsset struct {
	Subject   string
	Kind      AssetKind
	URL       string
	CreatedAt time.Time
}
