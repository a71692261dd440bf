package dedup

import (
	"time"

	"github.com/photark/photark-backend/internal/signature"
	"github.com/photark/photark-backend/pkg/db/models"
)

// Rule identifies which business rule classified a candidate as a duplicate.
type Rule int

const (
	RuleNone Rule = iota
	// RuleExactVisual: perceptual hash, resolution, capture time (within
	// tolerance) and, for video, duration all agree.
	RuleExactVisual
	// RuleReencoded: perceptual hash and duration agree while resolution and
	// capture time are ignored. Catches re-encoded/re-shared copies.
	RuleReencoded
	// RuleByteIdentical: content hash and byte size agree.
	RuleByteIdentical
)

func (r Rule) String() string {
	switch r {
	case RuleExactVisual:
		return "exact_visual"
	case RuleReencoded:
		return "reencoded_copy"
	case RuleByteIdentical:
		return "byte_identical"
	default:
		return "none"
	}
}

// Config carries the tolerance knobs. The capture tolerance is configuration
// rather than a constant; product owns the final value.
type Config struct {
	CaptureTolerance time.Duration
}

// Engine classifies new signatures against pre-filtered catalog candidates.
// The caller is responsible for the coarse size/date window filter.
type Engine struct {
	cfg Config
}

// NewEngine builds a dedup engine with the provided tolerances.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Match returns the first candidate classified as a duplicate, together with
// the rule that matched, or (nil, RuleNone). Rules are evaluated strictly in
// priority order and the first hit short-circuits: a byte-identical candidate
// is never reported when an earlier rule already matched another candidate.
// A missing perceptual hash or duration disqualifies the rule that needs it,
// not the whole evaluation.
func (e *Engine) Match(sig signature.Signature, candidates []models.MediaRecord) (*models.MediaRecord, Rule) {
	for _, rule := range []Rule{RuleExactVisual, RuleReencoded, RuleByteIdentical} {
		for i := range candidates {
			if e.matches(rule, sig, &candidates[i]) {
				return &candidates[i], rule
			}
		}
	}
	return nil, RuleNone
}

func (e *Engine) matches(rule Rule, sig signature.Signature, candidate *models.MediaRecord) bool {
	switch rule {
	case RuleExactVisual:
		if !perceptualEqual(sig, candidate) {
			return false
		}
		if sig.Width != candidate.Width || sig.Height != candidate.Height {
			return false
		}
		if !captureWithin(sig, candidate, e.cfg.CaptureTolerance) {
			return false
		}
		return durationCompatible(sig, candidate)
	case RuleReencoded:
		if !perceptualEqual(sig, candidate) {
			return false
		}
		return durationCompatible(sig, candidate)
	case RuleByteIdentical:
		return sig.ContentHash != "" &&
			sig.ContentHash == candidate.ContentHash &&
			sig.ByteSize == candidate.ByteSize
	default:
		return false
	}
}

func perceptualEqual(sig signature.Signature, candidate *models.MediaRecord) bool {
	if sig.PerceptualHash == nil || candidate.PerceptualHash == nil {
		return false
	}
	return *sig.PerceptualHash == *candidate.PerceptualHash
}

// captureWithin requires both capture times; an absent one disqualifies the
// strict rule.
func captureWithin(sig signature.Signature, candidate *models.MediaRecord, tolerance time.Duration) bool {
	if sig.CaptureTime == nil || candidate.CaptureTime == nil {
		return false
	}
	delta := sig.CaptureTime.Sub(*candidate.CaptureTime)
	if delta < 0 {
		delta = -delta
	}
	return delta <= tolerance
}

// durationCompatible applies the video clause: when the new media carries a
// duration the candidate's must equal it. Still images (no duration on the
// new side) pass vacuously.
func durationCompatible(sig signature.Signature, candidate *models.MediaRecord) bool {
	if sig.Duration == nil {
		return candidate.DurationMS == nil
	}
	if candidate.DurationMS == nil {
		return false
	}
	return sig.Duration.Milliseconds() == *candidate.DurationMS
}
