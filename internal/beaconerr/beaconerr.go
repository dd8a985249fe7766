// Package beaconerr defines the error-kind taxonomy the pulse pipeline uses
// to decide SKIP vs FATAL. Every error that crosses a component boundary
// should be wrapped with one of the Kind constants below via Wrap/New, so
// the supervisor, which stops on a fatal kind after the pulse pipeline has
// skipped the slot, can classify it without string-sniffing.
package beaconerr

import (
	"github.com/cockroachdb/errors"
)

// Kind classifies a failure the way spec §7 does: some kinds are retried
// within the lead-time budget and then skip the slot, some are immediately
// fatal, some degrade gracefully without ever skipping.
type Kind string

const (
	// KindTransient covers DB/HSM/resolver connectivity failures. Retried
	// with backoff; on exhaustion the slot is skipped.
	KindTransient Kind = "transient"
	// KindChainViolation covers a prev-link mismatch, bad signature, or any
	// other index/timestamp inconsistency — suggests corruption. Always
	// fatal.
	KindChainViolation Kind = "chain_violation"
	// KindConflict is an append whose index is already committed: a
	// duplicate-index write lost a race. Not fatal: the losing pipeline
	// simply skips this slot.
	KindConflict Kind = "conflict"
	// KindConfig covers malformed configuration. Fatal at startup, never
	// expected at runtime.
	KindConfig Kind = "config"
	// KindRandomnessFailure means the collector could not produce a fresh
	// blob in time. Skips the slot, keeps running.
	KindRandomnessFailure Kind = "randomness_failure"
	// KindStitchFailure means a single stitch resolver failed. Never a
	// reason to skip; the stitch is simply omitted.
	KindStitchFailure Kind = "stitch_failure"
	// KindSignerFatal means the signer rejected the request outright (e.g.
	// HSM auth rejected). Skips the slot and raises an alarm, but the
	// process keeps retrying future slots in case an operator fixes it.
	KindSignerFatal Kind = "signer_fatal"
)

type kindKey struct{}

// Wrap attaches kind to err, preserving the original message and any
// existing stack trace cockroachdb/errors has already recorded.
func Wrap(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return errors.WithDetail(errors.Mark(err, markerFor(kind)), string(kind))
}

// New creates a new error already tagged with kind.
func New(kind Kind, msg string) error {
	return Wrap(errors.New(msg), kind)
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) error {
	return Wrap(errors.Newf(format, args...), kind)
}

var markers = map[Kind]error{
	KindTransient:         errors.New("transient"),
	KindChainViolation:    errors.New("chain_violation"),
	KindConflict:          errors.New("conflict"),
	KindConfig:            errors.New("config"),
	KindRandomnessFailure: errors.New("randomness_failure"),
	KindStitchFailure:     errors.New("stitch_failure"),
	KindSignerFatal:       errors.New("signer_fatal"),
}

func markerFor(kind Kind) error {
	if m, ok := markers[kind]; ok {
		return m
	}
	return errors.New(string(kind))
}

// GetKind recovers the Kind most recently attached by Wrap/New, returning
// ("", false) for an error that was never classified.
func GetKind(err error) (Kind, bool) {
	for kind, marker := range markers {
		if errors.Is(err, marker) {
			return kind, true
		}
	}
	return "", false
}

// Is reports whether err was tagged with kind.
func Is(err error, kind Kind) bool {
	k, ok := GetKind(err)
	return ok && k == kind
}

// IsFatal reports whether kind should terminate the supervisor rather than
// skip a slot and continue.
func IsFatal(kind Kind) bool {
	switch kind {
	case KindChainViolation, KindConfig:
		return true
	default:
		return false
	}
}

// IsSkip reports whether kind should skip the current slot but keep the
// supervisor running.
func IsSkip(kind Kind) bool {
	switch kind {
	case KindTransient, KindConflict, KindRandomnessFailure, KindSignerFatal:
		return true
	default:
		return false
	}
}
