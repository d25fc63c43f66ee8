// Package domain contains the core entities of the pharmacogenomic risk pipeline:
// parsed variant records, per-gene metabolizer profiles, drug risk assessments and
// the static drug/gene registry that ties them together.
//
// Phenotype categories follow the CPIC metabolizer terminology
// (Caudle et al. 2017, Genet Med 19(2):215-223).
package domain

import (
	"errors"
	"fmt"
)

// Phenotype is the metabolizer phenotype inferred for a pharmacogene.
// It is a closed set; any other value is normalised to PhenotypeUnknown.
type Phenotype string

const (
	PhenotypePM      Phenotype = "PM"  // poor metabolizer
	PhenotypeIM      Phenotype = "IM"  // intermediate metabolizer
	PhenotypeNM      Phenotype = "NM"  // normal metabolizer
	PhenotypeRM      Phenotype = "RM"  // rapid metabolizer, reserved
	PhenotypeURM     Phenotype = "URM" // ultra-rapid metabolizer, reserved
	PhenotypeUnknown Phenotype = "Unknown"
)

// Severity is the clinical severity tier attached to a risk assessment.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Baseline risk values used when no rule matches.
const (
	DefaultRiskLabel  = "Safe"
	DefaultConfidence = 0.7
	DefaultDosingNote = "Standard dosing recommended."

	// DefaultSampleID is used when the variant file carries no sample column.
	DefaultSampleID = "PATIENT_001"

	// ReferenceAllele is the star allele assumed when no variant allele is observed.
	ReferenceAllele = "*1"
)

var (
	ErrInvalidPhenotype = errors.New("invalid metabolizer phenotype")
	ErrInvalidSeverity  = errors.New("invalid severity")
	ErrNoInputFile      = errors.New("no input file supplied")
)

// IsValid reports whether p is a member of the closed phenotype set.
func (p Phenotype) IsValid() bool {
	switch p {
	case PhenotypePM, PhenotypeIM, PhenotypeNM, PhenotypeRM, PhenotypeURM, PhenotypeUnknown:
		return true
	default:
		return false
	}
}

// Normalize maps any value outside the closed set to PhenotypeUnknown.
func (p Phenotype) Normalize() Phenotype {
	if p.IsValid() {
		return p
	}
	return PhenotypeUnknown
}

func (p Phenotype) String() string {
	return string(p)
}

// ParsePhenotype converts a string into a Phenotype, failing on values outside the set.
func ParsePhenotype(s string) (Phenotype, error) {
	p := Phenotype(s)
	if !p.IsValid() {
		return PhenotypeUnknown, fmt.Errorf("%w: %q", ErrInvalidPhenotype, s)
	}
	return p, nil
}

// IsValid reports whether s is one of the four severity tiers.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityModerate, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

func (s Severity) String() string {
	return string(s)
}

// VariantRecord is one detected genomic variant extracted from a data line.
// Missing allele or gene information is the empty string, never absent.
type VariantRecord struct {
	Gene        string `json:"gene"`
	StarAllele  string `json:"star_allele"`
	ReferenceID string `json:"reference_id"`
}

// ParseResult is the outcome of parsing one variant file.
// Succeeded is false only when the input could not be read at all.
type ParseResult struct {
	Succeeded bool            `json:"succeeded"`
	SampleID  string          `json:"sample_id"`
	Variants  []VariantRecord `json:"variants"`
}

// GeneProfile is the inferred diplotype and phenotype for a single gene.
type GeneProfile struct {
	Gene             string    `json:"gene"`
	Diplotype        string    `json:"diplotype"`
	Phenotype        Phenotype `json:"phenotype"`
	DetectedVariants []string  `json:"detected_variants"`
}

// RiskAssessment is the drug-specific risk derived from a phenotype.
type RiskAssessment struct {
	RiskLabel       string   `json:"risk_label"`
	Severity        Severity `json:"severity"`
	ConfidenceScore float64  `json:"confidence_score"`
	DosingNote      string   `json:"dosing_note"`
}

// BaselineRisk returns the assessment used when no rule applies.
func BaselineRisk() RiskAssessment {
	return RiskAssessment{
		RiskLabel:       DefaultRiskLabel,
		Severity:        SeverityLow,
		ConfidenceScore: DefaultConfidence,
		DosingNote:      DefaultDosingNote,
	}
}

// Validate checks the assessment invariants.
func (r RiskAssessment) Validate() error {
	if r.RiskLabel == "" {
		return fmt.Errorf("risk assessment validation: %w", errors.New("risk label is required"))
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("risk assessment validation: %w", ErrInvalidSeverity)
	}
	if r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		return fmt.Errorf("risk assessment validation: confidence %v outside [0,1]", r.ConfidenceScore)
	}
	return nil
}
