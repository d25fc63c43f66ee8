package service

import (
	"strings"

	"github.com/pharmgx-risk-server/internal/domain"
)

// phenotypePatterns are checked in order; the first set with a substring match
// on the diplotype decides the phenotype.
var phenotypePatterns = []struct {
	Phenotype domain.Phenotype
	Patterns  []string
}{
	{Phenotype: domain.PhenotypePM, Patterns: []string{"*2/*2", "*3/*3", "*4/*4", "*2A"}},
	{Phenotype: domain.PhenotypeIM, Patterns: []string{"*2", "*3", "*4", "*10", "*17"}},
}

// GeneProfilerService implements domain.GeneProfiler
type GeneProfilerService struct{}

// NewGeneProfilerService creates a new gene profiler
func NewGeneProfilerService() *GeneProfilerService {
	return &GeneProfilerService{}
}

// Infer implements domain.GeneProfiler
func (s *GeneProfilerService) Infer(variants []domain.VariantRecord, gene string) domain.GeneProfile {
	return InferGeneProfile(variants, gene)
}

// InferGeneProfile derives the diplotype and phenotype of gene from the variants
// recorded for it. Only the first two star alleles are considered.
func InferGeneProfile(variants []domain.VariantRecord, gene string) domain.GeneProfile {
	alleles := make([]string, 0, 2)
	detected := make([]string, 0)

	for _, v := range variants {
		if v.Gene != gene {
			continue
		}
		detected = append(detected, v.ReferenceID)
		if v.StarAllele != "" {
			alleles = append(alleles, v.StarAllele)
		}
	}

	diplotype := buildDiplotype(alleles)

	return domain.GeneProfile{
		Gene:             gene,
		Diplotype:        diplotype,
		Phenotype:        classifyPhenotype(diplotype),
		DetectedVariants: detected,
	}
}

func buildDiplotype(alleles []string) string {
	switch len(alleles) {
	case 0:
		return domain.ReferenceAllele + "/" + domain.ReferenceAllele
	case 1:
		return alleles[0] + "/" + domain.ReferenceAllele
	default:
		return alleles[0] + "/" + alleles[1]
	}
}

func classifyPhenotype(diplotype string) domain.Phenotype {
	for _, set := range phenotypePatterns {
		for _, pattern := range set.Patterns {
			if strings.Contains(diplotype, pattern) {
				return set.Phenotype.Normalize()
			}
		}
	}
	return domain.PhenotypeNM
}
