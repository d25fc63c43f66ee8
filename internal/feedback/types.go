// Package feedback stores clinician agreement or disagreement with the risk
// label suggested for a drug. Entries are keyed by drug, gene and diplotype and
// never carry a sample or patient identifier.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pharmgx-risk-server/internal/domain"
)

// ExportVersion is written into every export document
const ExportVersion = "1.0"

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// Feedback represents a clinician's review of one suggested risk label.
type Feedback struct {
	ID                 int64            `json:"id,omitempty"`
	Drug               string           `json:"drug"`
	Gene               string           `json:"gene"`
	Diplotype          string           `json:"diplotype"`
	Phenotype          domain.Phenotype `json:"phenotype"`
	SuggestedRiskLabel string           `json:"suggested_risk_label"` // system's suggestion
	ClinicianRiskLabel string           `json:"clinician_risk_label"` // clinician's decision
	Agreed             bool             `json:"agreed"`
	Notes              string           `json:"notes,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Normalize upper-cases the drug and derives Agreed when the clinician label is set.
func (f *Feedback) Normalize() {
	f.Drug = strings.ToUpper(strings.TrimSpace(f.Drug))
	f.Gene = strings.TrimSpace(f.Gene)
	f.Diplotype = strings.TrimSpace(f.Diplotype)
	f.Phenotype = f.Phenotype.Normalize()
	if f.ClinicianRiskLabel == "" {
		f.ClinicianRiskLabel = f.SuggestedRiskLabel
	}
	f.Agreed = f.ClinicianRiskLabel == f.SuggestedRiskLabel
}

// Validate checks the required fields.
func (f *Feedback) Validate() error {
	switch {
	case f.Drug == "":
		return domain.NewValidationError("drug", "drug is required", f.Drug)
	case f.Gene == "":
		return domain.NewValidationError("gene", "gene is required", f.Gene)
	case f.Diplotype == "":
		return domain.NewValidationError("diplotype", "diplotype is required", f.Diplotype)
	case f.SuggestedRiskLabel == "":
		return domain.NewValidationError("suggested_risk_label", "suggested risk label is required", f.SuggestedRiskLabel)
	}
	return nil
}

// Store defines the interface for feedback storage operations.
type Store interface {
	// Save stores or updates feedback. An entry with the same drug, gene and
	// diplotype is updated in place.
	Save(ctx context.Context, feedback *Feedback) error

	// Get returns the entry for drug, gene and diplotype, or nil if none exists.
	Get(ctx context.Context, drug, gene, diplotype string) (*Feedback, error)

	// List returns entries newest first.
	List(ctx context.Context, limit, offset int) ([]*Feedback, error)

	Count(ctx context.Context) (int64, error)

	Delete(ctx context.Context, id int64) error

	// ExportJSON writes all feedback as a FeedbackExport document.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON reads a FeedbackExport document. Entries whose key already
	// exists are skipped.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	Close() error
}

// FeedbackExport represents the JSON export format.
type FeedbackExport struct {
	Version    string      `json:"version"`
	ExportedAt time.Time   `json:"exported_at"`
	Count      int         `json:"count"`
	Feedback   []*Feedback `json:"feedback"`
}

func domainPhenotype(s string) domain.Phenotype {
	return domain.Phenotype(s).Normalize()
}

func exportJSON(ctx context.Context, s Store, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list feedback: %w", err)
	}
	if all == nil {
		all = []*Feedback{}
	}

	export := &FeedbackExport{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Feedback:   all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importJSON(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export FeedbackExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, fb := range export.Feedback {
		if fb == nil {
			continue
		}
		fb.Normalize()
		if err := fb.Validate(); err != nil {
			skipped++
			continue
		}

		existing, err := s.Get(ctx, fb.Drug, fb.Gene, fb.Diplotype)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}

		if err := s.Save(ctx, fb); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}
