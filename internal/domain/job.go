// Package domain holds the render service's core types: job identity, the
// persisted job record and its finality, derived assets, profile statistics
// and the response shapes returned to clients.
package domain

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Variant is the presentation theme of a rendered video.
type Variant string

const (
	VariantBlue   Variant = "blue"
	VariantPurple Variant = "purple"
	VariantGreen  Variant = "green"
	VariantRed    Variant = "red"
	VariantSilver Variant = "silver"
	VariantDark   Variant = "dark"
	VariantLight  Variant = "light"
)

// Variants lists every accepted variant.
var Variants = []Variant{
	VariantBlue, VariantPurple, VariantGreen, VariantRed,
	VariantSilver, VariantDark, VariantLight,
}

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	for _, known := range Variants {
		if v == known {
			return true
		}
	}
	return false
}

// ParseVariant returns the Variant named by s.
func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.TrimSpace(s))
	if !v.Valid() {
		return "", fmt.Errorf("unknown variant %q", s)
	}
	return v, nil
}

// NormalizeSubject trims and case-folds a subject identifier.
func NormalizeSubject(raw string) string {
	return cases.Fold().String(strings.TrimSpace(raw))
}

// JobKey is the normalized identity of a render request. Build it with
// NewJobKey so every lookup sees the same subject spelling.
type JobKey struct {
	Subject string
	Variant Variant
}

// NewJobKey normalizes raw and pairs it with variant.
func NewJobKey(raw string, variant Variant) JobKey {
	return JobKey{Subject: NormalizeSubject(raw), Variant: variant}
}

// String returns "subject:variant".
func (k JobKey) String() string {
	return k.Subject + ":" + string(k.Variant)
}

// OutputName is the deterministic file name of the rendered video.
func (k JobKey) OutputName() string {
	return "unwrapped-" + k.Subject + "-" + string(k.Variant) + ".mp4"
}
