package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmgx-risk-server/internal/domain"
)

const vcfHeader = "##fileformat=VCFv4.2\n#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tPATIENT_42\n"

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
}

func newTestAnalyzer(opts ...AnalyzerOption) *Analyzer {
	opts = append([]AnalyzerOption{WithClock(fixedClock)}, opts...)
	return NewAnalyzer(nil, quietLogger(), opts...)
}

func TestAnalyzer_SingleReducedFunctionAllele(t *testing.T) {
	content := vcfHeader + vcfLine("22", "42130692", "id1", "G", "A", ".", "PASS", "GENE=CYP2D6;STAR=*4;RS=rs123")

	report := newTestAnalyzer().Analyze(context.Background(), []byte(content), []string{"CODEINE"})

	require.Len(t, report.Results, 1)
	r := report.Results[0]
	assert.Equal(t, "PATIENT_42", r.PatientID)
	assert.Equal(t, "CODEINE", r.Drug)
	assert.Equal(t, "2025-06-01T08:00:00.000000+00:00", r.Timestamp)
	assert.Equal(t, "*4/*1", r.PharmacogenomicProfile.Diplotype)
	assert.Equal(t, domain.PhenotypeIM, r.PharmacogenomicProfile.Phenotype)
	assert.Equal(t, "CYP2D6", r.PharmacogenomicProfile.PrimaryGene)
	assert.Equal(t, []domain.DetectedVariant{{RSID: "rs123"}}, r.PharmacogenomicProfile.DetectedVariants)
	assert.Equal(t, "Safe", r.RiskAssessment.RiskLabel)
	assert.True(t, r.QualityMetrics.VCFParsingSuccess)
}

func TestAnalyzer_HomozygousPoorMetabolizer(t *testing.T) {
	line := vcfLine("10", "94981296", "id", "C", "T", ".", "PASS", "GENE=CYP2C9;STAR=*3")
	content := vcfHeader + line + "\n" + line + "\n"

	report := newTestAnalyzer().Analyze(context.Background(), []byte(content), []string{"WARFARIN"})

	require.Len(t, report.Results, 1)
	r := report.Results[0]
	assert.Equal(t, "*3/*3", r.PharmacogenomicProfile.Diplotype)
	assert.Equal(t, domain.PhenotypePM, r.PharmacogenomicProfile.Phenotype)
	assert.Equal(t, "Toxic", r.RiskAssessment.RiskLabel)
	assert.Equal(t, domain.SeverityCritical, r.RiskAssessment.Severity)
	assert.Equal(t, 0.95, r.RiskAssessment.ConfidenceScore)
	assert.Equal(t, "Reduce starting dose.", r.ClinicalRecommendation.RecommendedAction)
}

func TestAnalyzer_NoVariants(t *testing.T) {
	report := newTestAnalyzer().Analyze(context.Background(), []byte(vcfHeader), []string{"SIMVASTATIN"})

	require.Len(t, report.Results, 1)
	r := report.Results[0]
	assert.Equal(t, "*1/*1", r.PharmacogenomicProfile.Diplotype)
	assert.Equal(t, domain.PhenotypeNM, r.PharmacogenomicProfile.Phenotype)
	assert.Equal(t, "Safe", r.RiskAssessment.RiskLabel)
	assert.Equal(t, domain.SeverityLow, r.RiskAssessment.Severity)
	assert.Equal(t, 0.7, r.RiskAssessment.ConfidenceScore)
	assert.Empty(t, r.PharmacogenomicProfile.DetectedVariants)
	assert.NotNil(t, r.PharmacogenomicProfile.DetectedVariants)
}

func TestAnalyzer_ExplanationUnavailableUsesFallback(t *testing.T) {
	provider := &stubProvider{err: errors.New("dial tcp: connection refused")}
	explainer := NewExplainer(provider, quietLogger(), WithTimeout(50*time.Millisecond))
	analyzer := NewAnalyzer(explainer, quietLogger())

	content := vcfHeader + vcfLine("22", "1", "id", "G", "A", ".", "PASS", "GENE=CYP2D6;STAR=*4;RS=rs3892097")
	report := analyzer.Analyze(context.Background(), []byte(content), []string{"CODEINE"})

	require.Len(t, report.Results, 1)
	r := report.Results[0]
	assert.Equal(t, "CYP2D6 *4/*1 affects metabolism of CODEINE. Risk: Safe. Recommendation: Standard dosing recommended.", r.Explanation.Summary)
	assert.True(t, r.QualityMetrics.VCFParsingSuccess)
}

func TestAnalyzer_DrugFiltering(t *testing.T) {
	tests := []struct {
		name     string
		drugs    []string
		expected []string
	}{
		{"unsupported dropped", []string{"IBUPROFEN", "CODEINE", "ASPIRIN"}, []string{"CODEINE"}},
		{"duplicates kept in order", []string{"WARFARIN", "CODEINE", "WARFARIN"}, []string{"WARFARIN", "CODEINE", "WARFARIN"}},
		{"lower case not normalised here", []string{"codeine"}, []string{}},
		{"empty request", nil, []string{}},
		{"all six", domain.DefaultRegistry().SupportedDrugs(), domain.DefaultRegistry().SupportedDrugs()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := newTestAnalyzer(WithMaxConcurrency(2)).Analyze(context.Background(), []byte(vcfHeader), tt.drugs)

			got := make([]string, len(report.Results))
			for i, r := range report.Results {
				got[i] = r.Drug
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAnalyzer_Idempotent(t *testing.T) {
	content := vcfHeader +
		vcfLine("10", "1", "a", "C", "T", ".", "PASS", "GENE=CYP2C19;STAR=*2;RS=rs4244285") + "\n" +
		vcfLine("10", "2", "b", "C", "T", ".", "PASS", "GENE=CYP2C19;STAR=*17;RS=rs12248560") + "\n" +
		vcfLine("6", "3", "c", "C", "T", ".", "PASS", "GENE=TPMT;STAR=*3A")
	drugs := []string{"CLOPIDOGREL", "AZATHIOPRINE", "FLUOROURACIL"}

	analyzer := NewAnalyzer(nil, quietLogger())
	first := analyzer.Analyze(context.Background(), []byte(content), drugs)
	second := analyzer.Analyze(context.Background(), []byte(content), drugs)

	require.Len(t, first.Results, 3)
	require.Len(t, second.Results, 3)
	for i := range first.Results {
		assert.Equal(t, first.Results[i].RiskAssessment, second.Results[i].RiskAssessment)
		assert.Equal(t, first.Results[i].PharmacogenomicProfile, second.Results[i].PharmacogenomicProfile)
		assert.Equal(t, first.Results[i].ClinicalRecommendation, second.Results[i].ClinicalRecommendation)
	}
	assert.Equal(t, "*2/*17", first.Results[0].PharmacogenomicProfile.Diplotype)
	assert.Equal(t, domain.PhenotypeIM, first.Results[0].PharmacogenomicProfile.Phenotype)
}

func TestAnalyzer_TimestampPerResult(t *testing.T) {
	var mu sync.Mutex
	ticks := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ticks++
		return time.Date(2025, 6, 1, 0, 0, ticks, 0, time.UTC)
	}

	analyzer := newTestAnalyzer(WithClock(clock), WithMaxConcurrency(1))
	report := analyzer.Analyze(context.Background(), []byte(vcfHeader), []string{"CODEINE", "WARFARIN"})

	require.Len(t, report.Results, 2)
	assert.Equal(t, 2, ticks)
	assert.Equal(t, "2025-06-01T00:00:01.000000+00:00", report.Results[0].Timestamp)
	assert.Equal(t, "2025-06-01T00:00:02.000000+00:00", report.Results[1].Timestamp)
}

func TestAnalyzer_AnalyzeStreamReadFailure(t *testing.T) {
	report := newTestAnalyzer().AnalyzeStream(context.Background(), &failingReader{}, []string{"CODEINE"})

	require.Len(t, report.Results, 1)
	r := report.Results[0]
	assert.False(t, r.QualityMetrics.VCFParsingSuccess)
	assert.Equal(t, domain.DefaultSampleID, r.PatientID)
	assert.Equal(t, "*1/*1", r.PharmacogenomicProfile.Diplotype)
}

type recordingAnalysis struct {
	mu          sync.Mutex
	analyses    int
	results     map[string]int
	unsupported int
}

func (r *recordingAnalysis) RecordAnalysis(parseSucceeded bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyses++
}

func (r *recordingAnalysis) RecordResult(drug, riskLabel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string]int)
	}
	r.results[riskLabel]++
}

func (r *recordingAnalysis) RecordUnsupportedDrug() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsupported++
}

func TestAnalyzer_Recorder(t *testing.T) {
	recorder := &recordingAnalysis{}
	analyzer := newTestAnalyzer(WithAnalysisRecorder(recorder))

	analyzer.Analyze(context.Background(), []byte(vcfHeader), []string{"CODEINE", "X", "WARFARIN"})

	assert.Equal(t, 1, recorder.analyses)
	assert.Equal(t, 2, recorder.results["Safe"])
	assert.Equal(t, 1, recorder.unsupported)
}

func TestParseDrugRequest(t *testing.T) {
	tests := []struct {
		raw      string
		expected []string
	}{
		{"codeine, warfarin", []string{"CODEINE", "WARFARIN"}},
		{" Codeine ,,  ,simvastatin,", []string{"CODEINE", "SIMVASTATIN"}},
		{"", []string{}},
		{"CODEINE,CODEINE", []string{"CODEINE", "CODEINE"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseDrugRequest(tt.raw))
		})
	}
}

func TestAnalyzer_LargeRequestPreservesOrder(t *testing.T) {
	supported := domain.DefaultRegistry().SupportedDrugs()
	var drugs []string
	for i := 0; i < 50; i++ {
		drugs = append(drugs, supported[i%len(supported)])
	}

	report := newTestAnalyzer(WithMaxConcurrency(8)).Analyze(context.Background(), []byte(vcfHeader), drugs)

	require.Len(t, report.Results, len(drugs))
	for i, r := range report.Results {
		assert.Equal(t, drugs[i], r.Drug)
		gene, _ := domain.DefaultRegistry().GeneFor(drugs[i])
		assert.Equal(t, gene, r.PharmacogenomicProfile.PrimaryGene)
		assert.True(t, strings.HasPrefix(r.Explanation.Summary, gene+" *1/*1"))
	}
}

func TestAnalyzer_Stream(t *testing.T) {
	content := vcfHeader + vcfLine("22", "42130692", "id1", "G", "A", ".", "PASS", "GENE=CYP2D6;STAR=*4;RS=rs123")
	analyzer := newTestAnalyzer()

	var got []string
	err := analyzer.Stream(context.Background(), []byte(content), []string{"WARFARIN", "ASPIRIN", "CODEINE"}, func(r domain.DrugResult) error {
		got = append(got, r.Drug)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"WARFARIN", "CODEINE"}, got)
}

func TestAnalyzer_StreamStopsOnEmitError(t *testing.T) {
	analyzer := newTestAnalyzer()
	closed := errors.New("connection closed")

	calls := 0
	err := analyzer.Stream(context.Background(), []byte(vcfHeader), []string{"CODEINE", "WARFARIN"}, func(domain.DrugResult) error {
		calls++
		return closed
	})

	assert.ErrorIs(t, err, closed)
	assert.Equal(t, 1, calls)
}

func TestAnalyzer_StreamCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestAnalyzer().Stream(ctx, []byte(vcfHeader), []string{"CODEINE"}, func(domain.DrugResult) error {
		t.Fatal("emit must not be called after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
