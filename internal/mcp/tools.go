package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/pharmgx-risk-server/internal/domain"
	"github.com/pharmgx-risk-server/internal/feedback"
	"github.com/pharmgx-risk-server/internal/service"
)

// ErrFeedbackDisabled is returned by submit_feedback when no store is configured.
var ErrFeedbackDisabled = errors.New("feedback storage is not configured")

// MetadataAnalyzePharmacogenomics describes the analyze_pharmacogenomics tool.
var MetadataAnalyzePharmacogenomics = &mcp.Tool{
	Name: "analyze_pharmacogenomics",
	Description: "Analyze a patient's VCF content for drug-gene risks. " +
		"Returns one result per supported drug with the inferred diplotype, phenotype, " +
		"risk label (Safe, Toxic or Ineffective), a dosing " +
		"recommendation and a short explanation. Unsupported drugs are skipped.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"vcf_content", "drugs"},
		"properties": map[string]interface{}{
			"vcf_content": map[string]interface{}{
				"type":        "string",
				"description": "Raw VCF text including the #CHROM header line",
			},
			"drugs": map[string]interface{}{
				"type":        "string",
				"description": "Comma-separated drug names, e.g. \"CODEINE,WARFARIN\". Case-insensitive.",
			},
		},
	},
}

// InputAnalyzePharmacogenomics is the input for the AnalyzePharmacogenomics tool.
type InputAnalyzePharmacogenomics struct {
	VCFContent string `json:"vcf_content"`
	Drugs      string `json:"drugs"`
}

// OutputAnalyzePharmacogenomics is the output for the AnalyzePharmacogenomics tool.
type OutputAnalyzePharmacogenomics struct {
	Results []domain.DrugResult `json:"results"`
}

// MetadataListSupportedDrugs describes the list_supported_drugs tool.
var MetadataListSupportedDrugs = &mcp.Tool{
	Name:        "list_supported_drugs",
	Description: "List the drugs this server can assess and the gene each one is evaluated against.",
}

// InputListSupportedDrugs is the input for the ListSupportedDrugs tool.
type InputListSupportedDrugs struct{}

// OutputListSupportedDrugs is the output for the ListSupportedDrugs tool.
type OutputListSupportedDrugs struct {
	Drugs []domain.DrugGene `json:"drugs"`
}

// MetadataSubmitFeedback describes the submit_feedback tool.
var MetadataSubmitFeedback = &mcp.Tool{
	Name: "submit_feedback",
	Description: "Record a clinician's agreement or correction for a drug risk label. " +
		"A second submission for the same drug and diplotype replaces the first.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"drug", "diplotype", "suggested_risk_label"},
		"properties": map[string]interface{}{
			"drug": map[string]interface{}{
				"type":        "string",
				"description": "Drug name as returned by analyze_pharmacogenomics",
			},
			"diplotype": map[string]interface{}{
				"type":        "string",
				"description": "Diplotype the assessment was made for, e.g. \"*1/*4\"",
			},
			"phenotype": map[string]interface{}{
				"type":        "string",
				"description": "Phenotype code: PM, IM, NM, RM, URM or Unknown",
			},
			"suggested_risk_label": map[string]interface{}{
				"type":        "string",
				"description": "Risk label the server produced",
			},
			"clinician_risk_label": map[string]interface{}{
				"type":        "string",
				"description": "Risk label the clinician chose. Defaults to the suggested label.",
			},
			"notes": map[string]interface{}{
				"type":        "string",
				"description": "Free-text rationale",
			},
		},
	},
}

// InputSubmitFeedback is the input for the SubmitFeedback tool.
type InputSubmitFeedback struct {
	Drug               string `json:"drug"`
	Diplotype          string `json:"diplotype"`
	Phenotype          string `json:"phenotype"`
	SuggestedRiskLabel string `json:"suggested_risk_label"`
	ClinicianRiskLabel string `json:"clinician_risk_label"`
	Notes              string `json:"notes"`
}

// OutputSubmitFeedback is the output for the SubmitFeedback tool.
type OutputSubmitFeedback struct {
	ID                 int64  `json:"id"`
	Drug               string `json:"drug"`
	Gene               string `json:"gene"`
	Diplotype          string `json:"diplotype"`
	ClinicianRiskLabel string `json:"clinician_risk_label"`
	Agreed             bool   `json:"agreed"`
}

// Tools holds the collaborators the tool handlers need.
type Tools struct {
	analyzer *service.Analyzer
	feedback feedback.Store
	logger   *logrus.Logger
}

// NewTools binds the tool handlers to an analyzer and an optional feedback store.
func NewTools(analyzer *service.Analyzer, store feedback.Store, logger *logrus.Logger) *Tools {
	if logger == nil {
		logger = logrus.New()
	}
	return &Tools{analyzer: analyzer, feedback: store, logger: logger}
}

// Register adds every tool to the server.
func (t *Tools) Register(server *mcp.Server) {
	mcp.AddTool(server, MetadataAnalyzePharmacogenomics, t.AnalyzePharmacogenomics)
	mcp.AddTool(server, MetadataListSupportedDrugs, t.ListSupportedDrugs)
	mcp.AddTool(server, MetadataSubmitFeedback, t.SubmitFeedback)
	t.logger.WithField("tool_count", 3).Info("Registered MCP tools")
}

// AnalyzePharmacogenomics runs the full pipeline over the supplied VCF text.
func (t *Tools) AnalyzePharmacogenomics(ctx context.Context, _ *mcp.CallToolRequest, input InputAnalyzePharmacogenomics) (*mcp.CallToolResult, OutputAnalyzePharmacogenomics, error) {
	if strings.TrimSpace(input.VCFContent) == "" {
		return nil, OutputAnalyzePharmacogenomics{}, fmt.Errorf("vcf_content is required: %w", domain.ErrNoInputFile)
	}

	t.logger.WithField("tool", MetadataAnalyzePharmacogenomics.Name).Info("Tool invoked")
	report := t.analyzer.Analyze(ctx, []byte(input.VCFContent), service.ParseDrugRequest(input.Drugs))

	return nil, OutputAnalyzePharmacogenomics{Results: report.Results}, nil
}

// ListSupportedDrugs returns the registry in its fixed order.
func (t *Tools) ListSupportedDrugs(_ context.Context, _ *mcp.CallToolRequest, _ InputListSupportedDrugs) (*mcp.CallToolResult, OutputListSupportedDrugs, error) {
	return nil, OutputListSupportedDrugs{Drugs: t.analyzer.Registry().Entries()}, nil
}

// SubmitFeedback stores one clinician review. The gene is taken from the registry.
func (t *Tools) SubmitFeedback(ctx context.Context, _ *mcp.CallToolRequest, input InputSubmitFeedback) (*mcp.CallToolResult, OutputSubmitFeedback, error) {
	if t.feedback == nil {
		return nil, OutputSubmitFeedback{}, ErrFeedbackDisabled
	}

	fb := &feedback.Feedback{
		Drug:               input.Drug,
		Diplotype:          input.Diplotype,
		Phenotype:          domain.Phenotype(input.Phenotype),
		SuggestedRiskLabel: input.SuggestedRiskLabel,
		ClinicianRiskLabel: input.ClinicianRiskLabel,
		Notes:              input.Notes,
	}
	fb.Normalize()

	gene, ok := t.analyzer.Registry().GeneFor(fb.Drug)
	if !ok {
		return nil, OutputSubmitFeedback{}, fmt.Errorf("unsupported drug %q", fb.Drug)
	}
	fb.Gene = gene

	if err := t.feedback.Save(ctx, fb); err != nil {
		return nil, OutputSubmitFeedback{}, fmt.Errorf("failed to save feedback: %w", err)
	}

	t.logger.WithFields(logrus.Fields{
		"drug":   fb.Drug,
		"agreed": fb.Agreed,
	}).Info("Feedback recorded")

	return nil, OutputSubmitFeedback{
		ID:                 fb.ID,
		Drug:               fb.Drug,
		Gene:               fb.Gene,
		Diplotype:          fb.Diplotype,
		ClinicianRiskLabel: fb.ClinicianRiskLabel,
		Agreed:             fb.Agreed,
	}, nil
}
