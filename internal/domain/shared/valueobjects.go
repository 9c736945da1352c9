// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/studyloop/insight-engine/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UUID validation regex (simple version).
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// UserID represents a unique learner identifier (UUID format).
type UserID string

// IsValid checks if the user ID is a valid UUID.
func (u UserID) IsValid() bool {
	return uuidRegex.MatchString(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if !uid.IsValid() {
		return "", WrapError("shared", "NewUserID", ErrInvalidID, "user ID must be a UUID", nil)
	}
	return uid, nil
}

// ObjectiveID represents a unique learning-objective identifier (UUID format).
type ObjectiveID string

// IsValid checks if the objective ID is a valid UUID.
func (o ObjectiveID) IsValid() bool {
	return uuidRegex.MatchString(string(o))
}

// String returns the string representation.
func (o ObjectiveID) String() string {
	return string(o)
}

// NewObjectiveID creates a new ObjectiveID with validation.
func NewObjectiveID(id string) (ObjectiveID, error) {
	oid := ObjectiveID(strings.TrimSpace(id))
	if !oid.IsValid() {
		return "", WrapError("shared", "NewObjectiveID", ErrInvalidID, "objective ID must be a UUID", nil)
	}
	return oid, nil
}

// ExperimentID represents a unique experiment identifier (UUID format).
type ExperimentID string

// IsValid checks if the experiment ID is a valid UUID.
func (e ExperimentID) IsValid() bool {
	return uuidRegex.MatchString(string(e))
}

// String returns the string representation.
func (e ExperimentID) String() string {
	return string(e)
}

// CardID represents a spaced-repetition card identifier. Card IDs come from
// the upstream LMS and are opaque non-empty strings, not necessarily UUIDs.
type CardID string

// IsValid checks that the card ID is non-empty.
func (c CardID) IsValid() bool {
	return strings.TrimSpace(string(c)) != ""
}

// String returns the string representation.
func (c CardID) String() string {
	return string(c)
}

// ═══════════════════════════════════════════════════════════════════════════
// Bounded Numeric Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Probability is a value in [0, 1]. The zero value is a valid probability.
type Probability float64

// IsValid checks that the probability is finite and within [0, 1].
func (p Probability) IsValid() bool {
	v := float64(p)
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= 1
}

// Float64 returns the underlying value.
func (p Probability) Float64() float64 {
	return float64(p)
}

// ClampProbability coerces any float into a valid Probability. NaN maps to 0.
func ClampProbability(v float64) Probability {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return Probability(v)
}

// Confidence expresses how much signal backs a derived value, in [0, 1].
// 0 means "pure default, no observed data"; 1 means "fully supported".
type Confidence float64

// IsValid checks that the confidence is finite and within [0, 1].
func (c Confidence) IsValid() bool {
	v := float64(c)
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= 1
}

// Float64 returns the underlying value.
func (c Confidence) Float64() float64 {
	return float64(c)
}

// ClampConfidence coerces any float into a valid Confidence. NaN maps to 0.
func ClampConfidence(v float64) Confidence {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return Confidence(v)
}

// ═══════════════════════════════════════════════════════════════════════════
// Review Ratings
// ═══════════════════════════════════════════════════════════════════════════

// Rating is the learner's self-assessment of a spaced-repetition review.
type Rating string

const (
	// RatingAgain - the card was forgotten and must be repeated.
	RatingAgain Rating = "again"

	// RatingHard - recalled with significant effort.
	RatingHard Rating = "hard"

	// RatingGood - recalled correctly.
	RatingGood Rating = "good"

	// RatingEasy - recalled effortlessly.
	RatingEasy Rating = "easy"
)

// IsValid checks that the rating is one of the known values.
func (r Rating) IsValid() bool {
	switch r {
	case RatingAgain, RatingHard, RatingGood, RatingEasy:
		return true
	}
	return false
}

// IsCorrect reports whether the review counts as a successful recall.
// "again" is the only failing rating.
func (r Rating) IsCorrect() bool {
	return r != RatingAgain
}

// String returns the string representation.
func (r Rating) String() string {
	return string(r)
}

// ═══════════════════════════════════════════════════════════════════════════
// Time Helpers
// ═══════════════════════════════════════════════════════════════════════════

// DateRange represents an inclusive time interval.
type DateRange struct {
	From time.Time
	To   time.Time
}

// IsValid checks that From does not come after To.
func (d DateRange) IsValid() bool {
	return !d.From.After(d.To)
}

// Days returns the span of the range in fractional days.
func (d DateRange) Days() float64 {
	return timeutil.DaysBetween(d.From, d.To)
}

// Contains reports whether t falls within the range (inclusive).
func (d DateRange) Contains(t time.Time) bool {
	return !t.Before(d.From) && !t.After(d.To)
}

// String returns a human-readable representation.
func (d DateRange) String() string {
	return fmt.Sprintf("%s..%s", d.From.Format("2006-01-02"), d.To.Format("2006-01-02"))
}
