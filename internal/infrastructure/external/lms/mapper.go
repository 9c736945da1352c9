package lms

import (
	"math"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/domain/signal"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN MAPPING
// The mapper translates LMS wire payloads into domain telemetry. Malformed
// records are dropped and counted rather than failing the whole batch: one
// bad review must not block a nightly sync.
// ══════════════════════════════════════════════════════════════════════════════

// Mapper converts LMS DTOs to domain types.
type Mapper struct{}

// NewMapper creates a new Mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// TelemetryBatch holds one sync's worth of mapped domain telemetry plus the
// count of records dropped during mapping.
type TelemetryBatch struct {
	Profiles   []signal.UserProfile
	Objectives []signal.ObjectiveMeta
	Masteries  []MasteryRecord
	Reviews    map[shared.UserID][]signal.ReviewEvent
	Sessions   []UserSession
	Outcomes   []OutcomeRecord

	NextSyncToken string
	Dropped       int
}

// MasteryRecord is a per-learner mastery value for one objective.
type MasteryRecord struct {
	UserID      shared.UserID
	ObjectiveID shared.ObjectiveID
	Mastery     float64
}

// UserSession pairs a session record with its learner.
type UserSession struct {
	UserID  shared.UserID
	Session signal.SessionRecord
}

// OutcomeRecord is a resolved objective outcome for one learner.
type OutcomeRecord struct {
	UserID      shared.UserID
	ObjectiveID shared.ObjectiveID
	Struggled   bool
}

// BatchFromDelta maps a full sync delta into domain telemetry.
func (m *Mapper) BatchFromDelta(delta *SyncDeltaDTO) *TelemetryBatch {
	batch := &TelemetryBatch{
		Reviews:       make(map[shared.UserID][]signal.ReviewEvent),
		NextSyncToken: delta.NextSyncToken,
	}

	for _, dto := range delta.Learners {
		profile, ok := m.ProfileFromDTO(dto)
		if !ok {
			batch.Dropped++
			continue
		}
		batch.Profiles = append(batch.Profiles, profile)
	}

	for _, dto := range delta.Objectives {
		meta, masteries, ok := m.ObjectiveFromDTO(dto)
		if !ok {
			batch.Dropped++
			continue
		}
		batch.Objectives = append(batch.Objectives, meta)
		batch.Masteries = append(batch.Masteries, masteries...)
	}

	for _, dto := range delta.Reviews {
		userID, review, ok := m.ReviewFromDTO(dto)
		if !ok {
			batch.Dropped++
			continue
		}
		batch.Reviews[userID] = append(batch.Reviews[userID], review)
	}

	for _, dto := range delta.Sessions {
		session, ok := m.SessionFromDTO(dto)
		if !ok {
			batch.Dropped++
			continue
		}
		batch.Sessions = append(batch.Sessions, session)
	}

	for _, dto := range delta.Outcomes {
		outcome, ok := m.OutcomeFromDTO(dto)
		if !ok {
			batch.Dropped++
			continue
		}
		batch.Outcomes = append(batch.Outcomes, outcome)
	}

	return batch
}

// ProfileFromDTO maps a learner DTO to a domain profile.
func (m *Mapper) ProfileFromDTO(dto LearnerDTO) (signal.UserProfile, bool) {
	userID, err := shared.NewUserID(dto.ID)
	if err != nil {
		return signal.UserProfile{}, false
	}

	return signal.UserProfile{
		UserID:                 userID,
		LearningStyle:          dto.LearningStyle,
		ContentPreferences:     dto.ContentPreferences,
		OptimalSessionDuration: time.Duration(dto.OptimalSessionMinutes) * time.Minute,
		TopicFamiliesSeen:      dto.TopicFamilies,
	}, true
}

// ObjectiveFromDTO maps an objective DTO to domain metadata plus the
// per-learner mastery records embedded in it. Prerequisite mastery is left
// zero; the persistence layer joins it per learner at read time.
func (m *Mapper) ObjectiveFromDTO(dto ObjectiveDTO) (signal.ObjectiveMeta, []MasteryRecord, bool) {
	objectiveID, err := shared.NewObjectiveID(dto.ID)
	if err != nil {
		return signal.ObjectiveMeta{}, nil, false
	}

	meta := signal.ObjectiveMeta{
		ObjectiveID:  objectiveID,
		Complexity:   clamp01(dto.Complexity),
		TopicFamily:  dto.TopicFamily,
		ContentTypes: dto.ContentTypes,
	}
	for _, prereq := range dto.Prerequisites {
		prereqID, err := shared.NewObjectiveID(prereq.ObjectiveID)
		if err != nil {
			continue
		}
		meta.Prerequisites = append(meta.Prerequisites, signal.Prerequisite{ObjectiveID: prereqID})
	}

	var masteries []MasteryRecord
	for learnerID, mastery := range dto.Mastery {
		userID, err := shared.NewUserID(learnerID)
		if err != nil {
			continue
		}
		masteries = append(masteries, MasteryRecord{
			UserID:      userID,
			ObjectiveID: objectiveID,
			Mastery:     clamp01(mastery),
		})
	}

	return meta, masteries, true
}

// ReviewFromDTO maps a review DTO to a domain review event.
func (m *Mapper) ReviewFromDTO(dto ReviewDTO) (shared.UserID, signal.ReviewEvent, bool) {
	userID, err := shared.NewUserID(dto.LearnerID)
	if err != nil {
		return "", signal.ReviewEvent{}, false
	}
	objectiveID, err := shared.NewObjectiveID(dto.ObjectiveID)
	if err != nil {
		return "", signal.ReviewEvent{}, false
	}
	cardID := shared.CardID(dto.CardID)
	rating := shared.Rating(dto.Rating)
	if !cardID.IsValid() || !rating.IsValid() || dto.ReviewedAt.IsZero() {
		return "", signal.ReviewEvent{}, false
	}

	return userID, signal.ReviewEvent{
		CardID:      cardID,
		ObjectiveID: objectiveID,
		Rating:      rating,
		ReviewedAt:  dto.ReviewedAt,
	}, true
}

// SessionFromDTO maps a session DTO to a domain session record.
// A missing validation score maps to -1, distinguishing "no validation
// taken" from a genuine zero.
func (m *Mapper) SessionFromDTO(dto SessionDTO) (UserSession, bool) {
	userID, err := shared.NewUserID(dto.LearnerID)
	if err != nil {
		return UserSession{}, false
	}
	objectiveID, err := shared.NewObjectiveID(dto.ObjectiveID)
	if err != nil {
		return UserSession{}, false
	}
	if dto.CompletedAt.IsZero() || dto.DurationSeconds < 0 {
		return UserSession{}, false
	}

	validation := -1.0
	if dto.ValidationScore != nil {
		validation = clamp01(*dto.ValidationScore)
	}

	return UserSession{
		UserID: userID,
		Session: signal.SessionRecord{
			ObjectiveID:      objectiveID,
			Duration:         time.Duration(dto.DurationSeconds) * time.Second,
			CompletedAt:      dto.CompletedAt,
			ReviewsCompleted: dto.ReviewsCompleted,
			Score:            clamp01(dto.Score),
			AgainCount:       dto.AgainCount,
			ValidationScore:  validation,
		},
	}, true
}

// OutcomeFromDTO maps an outcome DTO to a domain outcome record.
func (m *Mapper) OutcomeFromDTO(dto OutcomeDTO) (OutcomeRecord, bool) {
	userID, err := shared.NewUserID(dto.LearnerID)
	if err != nil {
		return OutcomeRecord{}, false
	}
	objectiveID, err := shared.NewObjectiveID(dto.ObjectiveID)
	if err != nil {
		return OutcomeRecord{}, false
	}

	return OutcomeRecord{
		UserID:      userID,
		ObjectiveID: objectiveID,
		Struggled:   dto.Struggled,
	}, true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
