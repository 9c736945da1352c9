package features

import (
	"context"
	"sync"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/domain/signal"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXTRACTION PIPELINE
// Runs the five sub-extractors concurrently and merges their partial
// results over the neutral default. The pipeline upholds the core
// extraction contract: Extract never fails on missing upstream data, it
// degrades DataQuality instead.
// ══════════════════════════════════════════════════════════════════════════════

// Pipeline extracts feature vectors for (user, objective) pairs.
type Pipeline struct {
	extractors []subExtractor
	now        func() time.Time
}

// PipelineOption customizes pipeline construction.
type PipelineOption func(*Pipeline)

// WithClock injects the time source, for deterministic tests.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		p.now = now
	}
}

// NewPipeline creates a feature extraction pipeline reading from repo.
// Wrap repo in a caching decorator (infrastructure/persistence/redis) to
// avoid refetching stable signals; the pipeline itself is stateless.
func NewPipeline(repo signal.Repository, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	p.extractors = []subExtractor{
		&performanceExtractor{repo: repo},
		&prerequisiteExtractor{repo: repo},
		&complexityExtractor{repo: repo},
		&behavioralExtractor{repo: repo},
		&contextualExtractor{repo: repo, now: p.now},
	}
	return p
}

// Extract builds the normalized feature vector for the user and objective.
//
// The five sub-extractors have no ordering dependency and run concurrently.
// Any extractor error or missing signal leaves its fields at the neutral
// default; the only way Extract errors is a cancelled context.
func (p *Pipeline) Extract(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return NeutralVector(p.now()), err
	}

	merged := make(partial, FieldCount)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, extractor := range p.extractors {
		wg.Add(1)
		go func(e subExtractor) {
			defer wg.Done()
			fields, err := e.extract(ctx, userID, objectiveID)
			if err != nil || len(fields) == 0 {
				return
			}
			mu.Lock()
			for name, value := range fields {
				merged[name] = value
			}
			mu.Unlock()
		}(extractor)
	}
	wg.Wait()

	values := make([]float64, FieldCount)
	computed := 0
	for i, name := range fieldNames {
		if value, ok := merged[name]; ok {
			values[i] = clamp01(value)
			computed++
		} else {
			values[i] = Neutral
		}
	}

	vector := FromValues(values)
	vector.Meta = Meta{
		ExtractedAt: p.now(),
		DataQuality: float64(computed) / FieldCount,
	}
	return vector, nil
}
