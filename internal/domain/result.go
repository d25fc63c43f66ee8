package domain

import (
	"time"
)

// TimestampLayout renders UTC timestamps as ISO-8601 with microseconds and an
// explicit +00:00 offset.
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

// DrugResult is the per-drug output record. Field order is part of the wire contract.
type DrugResult struct {
	PatientID              string                 `json:"patient_id" yaml:"patient_id"`
	Drug                   string                 `json:"drug" yaml:"drug"`
	Timestamp              string                 `json:"timestamp" yaml:"timestamp"`
	RiskAssessment         RiskSummary            `json:"risk_assessment" yaml:"risk_assessment"`
	PharmacogenomicProfile ProfileSummary         `json:"pharmacogenomic_profile" yaml:"pharmacogenomic_profile"`
	ClinicalRecommendation ClinicalRecommendation `json:"clinical_recommendation" yaml:"clinical_recommendation"`
	Explanation            Explanation            `json:"llm_generated_explanation" yaml:"llm_generated_explanation"`
	QualityMetrics         QualityMetrics         `json:"quality_metrics" yaml:"quality_metrics"`
}

// RiskSummary is the risk section of a DrugResult.
type RiskSummary struct {
	RiskLabel       string   `json:"risk_label" yaml:"risk_label"`
	ConfidenceScore float64  `json:"confidence_score" yaml:"confidence_score"`
	Severity        Severity `json:"severity" yaml:"severity"`
}

// ProfileSummary is the pharmacogenomic profile section of a DrugResult.
type ProfileSummary struct {
	PrimaryGene      string            `json:"primary_gene" yaml:"primary_gene"`
	Diplotype        string            `json:"diplotype" yaml:"diplotype"`
	Phenotype        Phenotype         `json:"phenotype" yaml:"phenotype"`
	DetectedVariants []DetectedVariant `json:"detected_variants" yaml:"detected_variants"`
}

// DetectedVariant wraps a reference id reported for the profiled gene.
type DetectedVariant struct {
	RSID string `json:"rsid" yaml:"rsid"`
}

// ClinicalRecommendation carries the dosing note.
type ClinicalRecommendation struct {
	RecommendedAction string `json:"recommended_action" yaml:"recommended_action"`
}

// Explanation carries the free-text summary.
type Explanation struct {
	Summary string `json:"summary" yaml:"summary"`
}

// QualityMetrics reports input quality flags.
type QualityMetrics struct {
	VCFParsingSuccess bool `json:"vcf_parsing_success" yaml:"vcf_parsing_success"`
}

// AnalysisReport is the response envelope for one analyzed file.
type AnalysisReport struct {
	Results []DrugResult `json:"results" yaml:"results"`
}

// NewDrugResult assembles the output record for one drug.
func NewDrugResult(parse ParseResult, drug string, profile GeneProfile, risk RiskAssessment, explanation string, issuedAt time.Time) DrugResult {
	detected := make([]DetectedVariant, len(profile.DetectedVariants))
	for i, id := range profile.DetectedVariants {
		detected[i] = DetectedVariant{RSID: id}
	}

	return DrugResult{
		PatientID: parse.SampleID,
		Drug:      drug,
		Timestamp: FormatTimestamp(issuedAt),
		RiskAssessment: RiskSummary{
			RiskLabel:       risk.RiskLabel,
			ConfidenceScore: risk.ConfidenceScore,
			Severity:        risk.Severity,
		},
		PharmacogenomicProfile: ProfileSummary{
			PrimaryGene:      profile.Gene,
			Diplotype:        profile.Diplotype,
			Phenotype:        profile.Phenotype,
			DetectedVariants: detected,
		},
		ClinicalRecommendation: ClinicalRecommendation{RecommendedAction: risk.DosingNote},
		Explanation:            Explanation{Summary: explanation},
		QualityMetrics:         QualityMetrics{VCFParsingSuccess: parse.Succeeded},
	}
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
