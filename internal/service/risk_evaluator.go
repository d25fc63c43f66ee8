package service

import (
	"github.com/pharmgx-risk-server/internal/domain"
)

// RiskRule overrides the baseline assessment for one drug and phenotype.
type RiskRule struct {
	Drug       string
	Phenotype  domain.Phenotype
	Assessment domain.RiskAssessment
}

type ruleKey struct {
	drug      string
	phenotype domain.Phenotype
}

// DefaultRiskRules is the built-in rule table.
var DefaultRiskRules = []RiskRule{
	{
		Drug:      "CODEINE",
		Phenotype: domain.PhenotypePM,
		Assessment: domain.RiskAssessment{
			RiskLabel:       "Ineffective",
			Severity:        domain.SeverityHigh,
			ConfidenceScore: 0.9,
			DosingNote:      "Avoid codeine.",
		},
	},
	{
		Drug:      "WARFARIN",
		Phenotype: domain.PhenotypePM,
		Assessment: domain.RiskAssessment{
			RiskLabel:       "Toxic",
			Severity:        domain.SeverityCritical,
			ConfidenceScore: 0.95,
			DosingNote:      "Reduce starting dose.",
		},
	},
}

// RiskEvaluatorService implements domain.RiskEvaluator over a fixed rule table
type RiskEvaluatorService struct {
	rules map[ruleKey]domain.RiskAssessment
}

// NewRiskEvaluatorService indexes rules by (drug, phenotype). When two rules share
// a key the later one wins, matching in-order application.
func NewRiskEvaluatorService(rules []RiskRule) *RiskEvaluatorService {
	index := make(map[ruleKey]domain.RiskAssessment, len(rules))
	for _, r := range rules {
		index[ruleKey{drug: r.Drug, phenotype: r.Phenotype}] = r.Assessment
	}
	return &RiskEvaluatorService{rules: index}
}

var defaultEvaluator = NewRiskEvaluatorService(DefaultRiskRules)

// Evaluate returns the assessment for drug given the profile's phenotype
func (s *RiskEvaluatorService) Evaluate(profile domain.GeneProfile, drug string) domain.RiskAssessment {
	if assessment, ok := s.rules[ruleKey{drug: drug, phenotype: profile.Phenotype}]; ok {
		return assessment
	}
	return domain.BaselineRisk()
}

// Evaluate applies the built-in rule table.
func Evaluate(profile domain.GeneProfile, drug string) domain.RiskAssessment {
	return defaultEvaluator.Evaluate(profile, drug)
}
