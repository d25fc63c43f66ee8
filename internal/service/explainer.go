package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pharmgx-risk-server/internal/cache"
	"github.com/pharmgx-risk-server/internal/domain"
	"github.com/pharmgx-risk-server/pkg/external"
)

// Explanation sources, reported to the recorder
const (
	ExplanationSourceMemory   = "memory"
	ExplanationSourceShared   = "shared"
	ExplanationSourceProvider = "provider"
	ExplanationSourceFallback = "fallback"
)

// SharedExplanationCache is the cross-process cache tier, typically Redis
type SharedExplanationCache interface {
	Get(ctx context.Context, req domain.ExplanationRequest) (string, bool, error)
	Set(ctx context.Context, req domain.ExplanationRequest, summary string, ttl time.Duration) error
}

// ExplanationRecorder receives one call per explanation with the tier that produced it
type ExplanationRecorder interface {
	RecordExplanation(source string)
}

// ExplainerStats represents explanation performance counters
type ExplainerStats struct {
	MemoryHits    int64 `json:"memory_hits"`
	SharedHits    int64 `json:"shared_hits"`
	ProviderCalls int64 `json:"provider_calls"`
	Fallbacks     int64 `json:"fallbacks"`
	Errors        int64 `json:"errors"`
}

// Explainer produces the free-text summary for a drug result. It consults the
// memory cache, then the shared cache, then the provider, and falls back to a
// deterministic template. It never returns an error.
type Explainer struct {
	provider domain.ExplanationProvider
	memory   *cache.MemoryCache[string]
	shared   SharedExplanationCache
	recorder ExplanationRecorder
	timeout  time.Duration
	logger   *logrus.Logger

	memoryHits    atomic.Int64
	sharedHits    atomic.Int64
	providerCalls atomic.Int64
	fallbacks     atomic.Int64
	errors        atomic.Int64
}

// ExplainerOption configures optional Explainer collaborators
type ExplainerOption func(*Explainer)

// WithMemoryCache sets the in-process cache tier
func WithMemoryCache(c *cache.MemoryCache[string]) ExplainerOption {
	return func(e *Explainer) { e.memory = c }
}

// WithSharedCache sets the shared cache tier
func WithSharedCache(c SharedExplanationCache) ExplainerOption {
	return func(e *Explainer) { e.shared = c }
}

// WithRecorder sets the outcome recorder
func WithRecorder(r ExplanationRecorder) ExplainerOption {
	return func(e *Explainer) { e.recorder = r }
}

// WithTimeout bounds each provider call
func WithTimeout(d time.Duration) ExplainerOption {
	return func(e *Explainer) { e.timeout = d }
}

// NewExplainer creates an explainer. A nil provider always yields the fallback.
func NewExplainer(provider domain.ExplanationProvider, logger *logrus.Logger, opts ...ExplainerOption) *Explainer {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Explainer{
		provider: provider,
		timeout:  external.DefaultExplainTimeout,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Explain returns the explanation for one drug result
func (e *Explainer) Explain(ctx context.Context, drug string, profile domain.GeneProfile, risk domain.RiskAssessment) string {
	req := domain.ExplanationRequest{Drug: drug, Profile: profile, Risk: risk}

	if e.provider == nil {
		return e.fallback(req)
	}

	key := external.ExplanationKey(req)

	if e.memory != nil {
		if summary, ok := e.memory.Get(key); ok {
			e.memoryHits.Add(1)
			e.record(ExplanationSourceMemory)
			return summary
		}
	}

	if e.shared != nil {
		summary, found, err := e.shared.Get(ctx, req)
		if err != nil {
			e.logger.WithError(err).WithField("drug", drug).Warn("Shared explanation cache lookup failed")
		} else if found {
			e.sharedHits.Add(1)
			if e.memory != nil {
				e.memory.Set(key, summary)
			}
			e.record(ExplanationSourceShared)
			return summary
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.providerCalls.Add(1)
	summary, err := e.provider.Explain(callCtx, req)
	if err != nil {
		e.errors.Add(1)
		e.logger.WithError(err).WithFields(logrus.Fields{
			"drug": drug,
			"gene": profile.Gene,
		}).Warn("Explanation provider failed, using fallback")
		return e.fallback(req)
	}

	if e.memory != nil {
		e.memory.Set(key, summary)
	}
	if e.shared != nil {
		if err := e.shared.Set(ctx, req, summary, 0); err != nil {
			e.logger.WithError(err).Warn("Failed to cache explanation")
		}
	}

	e.record(ExplanationSourceProvider)
	return summary
}

// Stats returns a snapshot of the explainer counters
func (e *Explainer) Stats() ExplainerStats {
	return ExplainerStats{
		MemoryHits:    e.memoryHits.Load(),
		SharedHits:    e.sharedHits.Load(),
		ProviderCalls: e.providerCalls.Load(),
		Fallbacks:     e.fallbacks.Load(),
		Errors:        e.errors.Load(),
	}
}

func (e *Explainer) fallback(req domain.ExplanationRequest) string {
	e.fallbacks.Add(1)
	e.record(ExplanationSourceFallback)
	return FallbackExplanation(req.Drug, req.Profile, req.Risk)
}

func (e *Explainer) record(source string) {
	if e.recorder != nil {
		e.recorder.RecordExplanation(source)
	}
}

// FallbackExplanation renders the deterministic local summary
func FallbackExplanation(drug string, profile domain.GeneProfile, risk domain.RiskAssessment) string {
	return fmt.Sprintf("%s %s affects metabolism of %s. Risk: %s. Recommendation: %s",
		profile.Gene, profile.Diplotype, drug, risk.RiskLabel, risk.DosingNote)
}
