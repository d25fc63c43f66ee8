package domain

import (
	"context"
	"io"
)

// VariantParser turns raw variant file content into structured records
type VariantParser interface {
	Parse(content []byte) ParseResult
	ParseStream(r io.Reader) ParseResult
}

// GeneProfiler infers a diplotype and phenotype for one gene
type GeneProfiler interface {
	Infer(variants []VariantRecord, gene string) GeneProfile
}

// RiskEvaluator maps a phenotype and drug to a risk assessment
type RiskEvaluator interface {
	Evaluate(profile GeneProfile, drug string) RiskAssessment
}

// ExplanationRequest is the input handed to an explanation provider
type ExplanationRequest struct {
	Drug    string
	Profile GeneProfile
	Risk    RiskAssessment
}

// ExplanationProvider produces free-text explanations from an external service
type ExplanationProvider interface {
	Explain(ctx context.Context, req ExplanationRequest) (string, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetDatabaseConfig() *DatabaseConfig
	GetExplanationConfig() *ExplanationConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	IsProduction() bool
	IsDevelopment() bool
}
