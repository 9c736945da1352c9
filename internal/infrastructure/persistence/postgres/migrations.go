package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE TELEMETRY
// Learner telemetry synced from the LMS: profiles, objectives, reviews,
// sessions, and the per-objective outcome ledger.
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create telemetry tables
-- Version: 001

-- Learner profiles (synced from the LMS)
CREATE TABLE IF NOT EXISTS user_profiles (
    user_id UUID PRIMARY KEY,
    learning_style VARCHAR(30) NOT NULL DEFAULT '',
    content_preferences TEXT[] NOT NULL DEFAULT '{}',
    optimal_session_minutes INTEGER NOT NULL DEFAULT 0,
    topic_families TEXT[] NOT NULL DEFAULT '{}',
    synced_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_session_minutes CHECK (optimal_session_minutes >= 0)
);

-- Learning objectives (learner-independent part)
CREATE TABLE IF NOT EXISTS objectives (
    id UUID PRIMARY KEY,
    complexity DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    topic_family VARCHAR(100) NOT NULL DEFAULT '',
    content_types TEXT[] NOT NULL DEFAULT '{}',
    synced_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_complexity CHECK (complexity >= 0 AND complexity <= 1)
);

-- Objective prerequisite graph
CREATE TABLE IF NOT EXISTS objective_prerequisites (
    objective_id UUID NOT NULL REFERENCES objectives(id) ON DELETE CASCADE,
    prerequisite_id UUID NOT NULL REFERENCES objectives(id) ON DELETE CASCADE,

    PRIMARY KEY (objective_id, prerequisite_id),
    CONSTRAINT no_self_prerequisite CHECK (objective_id != prerequisite_id)
);

-- Per-learner mastery of each objective
CREATE TABLE IF NOT EXISTS objective_mastery (
    user_id UUID NOT NULL,
    objective_id UUID NOT NULL REFERENCES objectives(id) ON DELETE CASCADE,
    mastery DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, objective_id),
    CONSTRAINT valid_mastery CHECK (mastery >= 0 AND mastery <= 1)
);

-- Individual spaced-repetition reviews
CREATE TABLE IF NOT EXISTS review_events (
    id BIGSERIAL PRIMARY KEY,
    user_id UUID NOT NULL,
    card_id VARCHAR(100) NOT NULL,
    objective_id UUID NOT NULL,
    rating VARCHAR(10) NOT NULL,
    reviewed_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT valid_rating CHECK (rating IN ('again', 'hard', 'good', 'easy'))
);

CREATE INDEX IF NOT EXISTS idx_review_events_user ON review_events(user_id, reviewed_at);
CREATE INDEX IF NOT EXISTS idx_review_events_user_objective ON review_events(user_id, objective_id, reviewed_at);

-- Study session summaries
CREATE TABLE IF NOT EXISTS study_sessions (
    id BIGSERIAL PRIMARY KEY,
    user_id UUID NOT NULL,
    objective_id UUID NOT NULL,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    reviews_completed INTEGER NOT NULL DEFAULT 0,
    score DOUBLE PRECISION NOT NULL DEFAULT 0,
    again_count INTEGER NOT NULL DEFAULT 0,
    validation_score DOUBLE PRECISION NOT NULL DEFAULT -1,

    CONSTRAINT valid_score CHECK (score >= 0 AND score <= 1),
    CONSTRAINT valid_validation CHECK (validation_score >= -1 AND validation_score <= 1)
);

CREATE INDEX IF NOT EXISTS idx_study_sessions_user ON study_sessions(user_id, completed_at DESC);

-- Per-objective outcome ledger, feeds the historical struggle rate
CREATE TABLE IF NOT EXISTS objective_outcomes (
    user_id UUID NOT NULL,
    objective_id UUID NOT NULL,
    struggled BOOLEAN NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, objective_id)
);

CREATE INDEX IF NOT EXISTS idx_objective_outcomes_user ON objective_outcomes(user_id);
`

const migration001Down = `
DROP TABLE IF EXISTS objective_outcomes;
DROP TABLE IF EXISTS study_sessions;
DROP TABLE IF EXISTS review_events;
DROP TABLE IF EXISTS objective_mastery;
DROP TABLE IF EXISTS objective_prerequisites;
DROP TABLE IF EXISTS objectives;
DROP TABLE IF EXISTS user_profiles;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE PREDICTIONS
// Struggle prediction records and persisted model weights.
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create prediction tables
-- Version: 002

-- Issued predictions with their feature snapshot. Resolved rows double as
-- the training set.
CREATE TABLE IF NOT EXISTS prediction_records (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    objective_id UUID NOT NULL,
    strategy VARCHAR(30) NOT NULL,
    feature_values DOUBLE PRECISION[] NOT NULL,
    data_quality DOUBLE PRECISION NOT NULL DEFAULT 0,
    probability DOUBLE PRECISION NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    predicted_struggle BOOLEAN NOT NULL,
    outcome VARCHAR(20) NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    resolved_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_probability CHECK (probability >= 0 AND probability <= 1),
    CONSTRAINT valid_confidence CHECK (confidence >= 0 AND confidence <= 1),
    CONSTRAINT valid_outcome CHECK (outcome IN ('pending', 'confirmed', 'false_positive', 'missed'))
);

CREATE INDEX IF NOT EXISTS idx_prediction_records_pending
    ON prediction_records(user_id, objective_id, created_at)
    WHERE outcome = 'pending';
CREATE INDEX IF NOT EXISTS idx_prediction_records_resolved
    ON prediction_records(created_at)
    WHERE outcome != 'pending';

-- Trained model weights, append-only; the latest row is the live model
CREATE TABLE IF NOT EXISTS model_weights (
    id BIGSERIAL PRIMARY KEY,
    bias DOUBLE PRECISION NOT NULL,
    weights DOUBLE PRECISION[] NOT NULL,
    feature_names TEXT[] NOT NULL,
    example_count INTEGER NOT NULL,
    accuracy DOUBLE PRECISION NOT NULL,
    precision_score DOUBLE PRECISION NOT NULL,
    recall DOUBLE PRECISION NOT NULL,
    f1 DOUBLE PRECISION NOT NULL,
    calibration DOUBLE PRECISION NOT NULL,
    trained_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_model_weights_trained_at ON model_weights(trained_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS model_weights;
DROP TABLE IF EXISTS prediction_records;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE EXPERIMENTS
// Two-arm experiments and their per-user assignments.
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create experiment tables
-- Version: 003

CREATE TABLE IF NOT EXISTS experiments (
    id UUID PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    primary_metric VARCHAR(100) NOT NULL,
    target_user_count INTEGER NOT NULL,
    min_users_per_variant INTEGER NOT NULL,
    min_duration_days INTEGER NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'running',
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    concluded_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_status CHECK (status IN ('running', 'concluded')),
    CONSTRAINT valid_target CHECK (target_user_count >= 2 * min_users_per_variant)
);

CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status) WHERE status = 'running';

CREATE TABLE IF NOT EXISTS experiment_assignments (
    user_id UUID NOT NULL,
    experiment_id UUID NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
    variant CHAR(1) NOT NULL,
    metrics JSONB NOT NULL DEFAULT '{}'::jsonb,
    assigned_at TIMESTAMP WITH TIME ZONE NOT NULL,
    metrics_updated_at TIMESTAMP WITH TIME ZONE,

    PRIMARY KEY (user_id, experiment_id),
    CONSTRAINT valid_variant CHECK (variant IN ('A', 'B'))
);

CREATE INDEX IF NOT EXISTS idx_experiment_assignments_experiment
    ON experiment_assignments(experiment_id, variant);
`

const migration003Down = `
DROP TABLE IF EXISTS experiment_assignments;
DROP TABLE IF EXISTS experiments;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: CREATE SYNC STATE
// Cursor state for the incremental LMS telemetry sync.
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
-- Migration: Create sync state table
-- Version: 004

CREATE TABLE IF NOT EXISTS sync_state (
    key VARCHAR(100) PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migration004Down = `
DROP TABLE IF EXISTS sync_state;
`
