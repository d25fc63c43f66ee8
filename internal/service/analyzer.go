package service

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pharmgx-risk-server/internal/domain"
)

const defaultMaxConcurrency = 4

// AnalysisRecorder receives pipeline outcomes, typically for metrics
type AnalysisRecorder interface {
	RecordAnalysis(parseSucceeded bool, duration time.Duration)
	RecordResult(drug, riskLabel string)
	RecordUnsupportedDrug()
}

// Analyzer runs the parse, profile, evaluate and explain pipeline for one file
type Analyzer struct {
	registry       *domain.DrugGeneRegistry
	parser         domain.VariantParser
	profiler       domain.GeneProfiler
	evaluator      domain.RiskEvaluator
	explainer      *Explainer
	recorder       AnalysisRecorder
	maxConcurrency int
	now            func() time.Time
	logger         *logrus.Logger
}

// AnalyzerOption configures an Analyzer
type AnalyzerOption func(*Analyzer)

// WithRegistry replaces the default drug/gene registry
func WithRegistry(r *domain.DrugGeneRegistry) AnalyzerOption {
	return func(a *Analyzer) { a.registry = r }
}

// WithEvaluator replaces the default rule table evaluator
func WithEvaluator(ev domain.RiskEvaluator) AnalyzerOption {
	return func(a *Analyzer) { a.evaluator = ev }
}

// WithMaxConcurrency bounds the per-drug fan-out
func WithMaxConcurrency(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxConcurrency = n
		}
	}
}

// WithAnalysisRecorder sets the outcome recorder
func WithAnalysisRecorder(r AnalysisRecorder) AnalyzerOption {
	return func(a *Analyzer) { a.recorder = r }
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an analyzer. A nil explainer yields fallback explanations.
func NewAnalyzer(explainer *Explainer, logger *logrus.Logger, opts ...AnalyzerOption) *Analyzer {
	if logger == nil {
		logger = logrus.New()
	}
	if explainer == nil {
		explainer = NewExplainer(nil, logger)
	}

	a := &Analyzer{
		registry:       domain.DefaultRegistry(),
		parser:         NewVCFParser(),
		profiler:       NewGeneProfilerService(),
		evaluator:      defaultEvaluator,
		explainer:      explainer,
		maxConcurrency: defaultMaxConcurrency,
		now:            time.Now,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Registry returns the registry used to resolve drugs
func (a *Analyzer) Registry() *domain.DrugGeneRegistry {
	return a.registry
}

// Analyze parses content and produces one result per supported requested drug
func (a *Analyzer) Analyze(ctx context.Context, content []byte, drugs []string) *domain.AnalysisReport {
	start := time.Now()
	parse := a.parser.Parse(content)
	return a.finish(ctx, parse, drugs, start)
}

// AnalyzeStream is Analyze over a reader; a read failure is reported through
// vcf_parsing_success rather than an error
func (a *Analyzer) AnalyzeStream(ctx context.Context, r io.Reader, drugs []string) *domain.AnalysisReport {
	start := time.Now()
	parse := a.parser.ParseStream(r)
	return a.finish(ctx, parse, drugs, start)
}

func (a *Analyzer) finish(ctx context.Context, parse domain.ParseResult, drugs []string, start time.Time) *domain.AnalysisReport {
	results := a.AnalyzeParsed(ctx, parse, drugs)

	if a.recorder != nil {
		a.recorder.RecordAnalysis(parse.Succeeded, time.Since(start))
	}

	a.logger.WithFields(logrus.Fields{
		"sample_id":       parse.SampleID,
		"parse_success":   parse.Succeeded,
		"variant_count":   len(parse.Variants),
		"drugs_requested": len(drugs),
		"results":         len(results),
		"duration_ms":     time.Since(start).Milliseconds(),
	}).Info("Analysis completed")

	return &domain.AnalysisReport{Results: results}
}

// Stream parses content and hands each result to emit in request order as soon
// as it is ready. It stops at the first emit error or when ctx is done.
func (a *Analyzer) Stream(ctx context.Context, content []byte, drugs []string, emit func(domain.DrugResult) error) error {
	start := time.Now()
	parse := a.parser.Parse(content)

	emitted := 0
	for _, job := range a.jobs(drugs) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(a.analyzeDrug(ctx, parse, job)); err != nil {
			return err
		}
		emitted++
	}

	if a.recorder != nil {
		a.recorder.RecordAnalysis(parse.Succeeded, time.Since(start))
	}
	a.logger.WithFields(logrus.Fields{
		"sample_id":     parse.SampleID,
		"parse_success": parse.Succeeded,
		"results":       emitted,
	}).Info("Streamed analysis completed")
	return nil
}

type drugJob struct {
	drug string
	gene string
}

func (a *Analyzer) jobs(drugs []string) []drugJob {
	jobs := make([]drugJob, 0, len(drugs))
	for _, drug := range drugs {
		gene, ok := a.registry.GeneFor(drug)
		if !ok {
			if a.recorder != nil {
				a.recorder.RecordUnsupportedDrug()
			}
			a.logger.WithField("drug", drug).Debug("Ignoring unsupported drug")
			continue
		}
		jobs = append(jobs, drugJob{drug: drug, gene: gene})
	}
	return jobs
}

// AnalyzeParsed runs the per-drug stages over an existing parse result.
// Unsupported drugs are dropped, duplicates are kept, and output order follows
// the request.
func (a *Analyzer) AnalyzeParsed(ctx context.Context, parse domain.ParseResult, drugs []string) []domain.DrugResult {
	jobs := a.jobs(drugs)
	results := make([]domain.DrugResult, len(jobs))

	var g errgroup.Group
	g.SetLimit(a.maxConcurrency)

	for i, job := range jobs {
		g.Go(func() error {
			results[i] = a.analyzeDrug(ctx, parse, job)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (a *Analyzer) analyzeDrug(ctx context.Context, parse domain.ParseResult, job drugJob) domain.DrugResult {
	profile := a.profiler.Infer(parse.Variants, job.gene)
	risk := a.evaluator.Evaluate(profile, job.drug)
	explanation := a.explainer.Explain(ctx, job.drug, profile, risk)

	if a.recorder != nil {
		a.recorder.RecordResult(job.drug, risk.RiskLabel)
	}

	return domain.NewDrugResult(parse, job.drug, profile, risk, explanation, a.now())
}

// ParseDrugRequest splits a comma-separated drug list, upper-casing and
// trimming each entry and dropping empty ones
func ParseDrugRequest(raw string) []string {
	return NormalizeDrugs(strings.Split(raw, ","))
}

// NormalizeDrugs upper-cases and trims each entry, dropping empty ones
func NormalizeDrugs(drugs []string) []string {
	out := make([]string, 0, len(drugs))
	for _, d := range drugs {
		d = strings.TrimSpace(strings.ToUpper(d))
		if d == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}
