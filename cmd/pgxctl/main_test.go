package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmgx-risk-server/internal/domain"
	"github.com/pharmgx-risk-server/internal/feedback"
)

const sampleVCF = "##fileformat=VCFv4.2\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tPATIENT_9\n" +
	"10\t94781859\tid1\tG\tA\t.\tPASS\tGENE=CYP2C19;STAR=*2;RS=rs4244285\n" +
	"10\t94781859\tid2\tG\tA\t.\tPASS\tGENE=CYP2C19;STAR=*2\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// testConfig writes a config that keeps everything local and offline
func testConfig(t *testing.T, dir string) string {
	t.Helper()
	dbPath := filepath.ToSlash(filepath.Join(dir, "feedback.db"))
	return writeFile(t, dir, "config.yaml", "explanation:\n  enabled: false\n"+
		"feedback:\n  driver: sqlite\n  sqlite_path: "+dbPath+"\n")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAnalyze_JSON(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	vcf := writeFile(t, dir, "patient.vcf", sampleVCF)

	out, err := run(t, "analyze", "--config", cfg, "--file", vcf, "--drugs", "clopidogrel,aspirin")
	require.NoError(t, err)

	var report domain.AnalysisReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Results, 1)
	assert.Equal(t, "PATIENT_9", report.Results[0].PatientID)
	assert.Equal(t, "*2/*2", report.Results[0].PharmacogenomicProfile.Diplotype)
	assert.Equal(t, domain.PhenotypePM, report.Results[0].PharmacogenomicProfile.Phenotype)
}

func TestAnalyze_YAML(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	vcf := writeFile(t, dir, "patient.vcf", sampleVCF)

	out, err := run(t, "analyze", "--config", cfg, "--file", vcf, "--drugs", "CLOPIDOGREL", "--output", "yaml")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "results:"), out)
	assert.Contains(t, out, "drug: CLOPIDOGREL")
	assert.Contains(t, out, "patient_id: PATIENT_9")
	assert.Contains(t, out, "vcf_parsing_success: true")
}

func TestAnalyze_Errors(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	vcf := writeFile(t, dir, "patient.vcf", sampleVCF)

	tests := []struct {
		name string
		args []string
	}{
		{name: "bad output", args: []string{"analyze", "--config", cfg, "--file", vcf, "--drugs", "CODEINE", "--output", "xml"}},
		{name: "missing file", args: []string{"analyze", "--config", cfg, "--file", filepath.Join(dir, "absent.vcf"), "--drugs", "CODEINE"}},
		{name: "required flags", args: []string{"analyze", "--config", cfg}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestDrugs(t *testing.T) {
	out, err := run(t, "drugs")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, []string{"DRUG", "GENE"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"CODEINE", "CYP2D6"}, strings.Fields(lines[1]))
}

func TestFeedback_ExportImport(t *testing.T) {
	dir := t.TempDir()
	export := feedback.FeedbackExport{
		Version: feedback.ExportVersion,
		Feedback: []*feedback.Feedback{{
			Drug:               "WARFARIN",
			Gene:               "CYP2C9",
			Diplotype:          "*3/*3",
			Phenotype:          domain.PhenotypePM,
			SuggestedRiskLabel: "Toxic",
			ClinicianRiskLabel: "Toxic",
		}},
	}
	data, err := json.Marshal(export)
	require.NoError(t, err)
	importFile := writeFile(t, dir, "import.json", string(data))
	cfg := testConfig(t, dir)

	out, err := run(t, "feedback", "import", "--config", cfg, "--file", importFile)
	require.NoError(t, err)
	assert.Equal(t, "Imported 1 entries, skipped 0\n", out)

	out, err = run(t, "feedback", "import", "--config", cfg, "--file", importFile)
	require.NoError(t, err)
	assert.Equal(t, "Imported 0 entries, skipped 1\n", out)

	exportFile := filepath.Join(dir, "export.json")
	_, err = run(t, "feedback", "export", "--config", cfg, "--out", exportFile)
	require.NoError(t, err)

	raw, err := os.ReadFile(exportFile)
	require.NoError(t, err)
	var exported feedback.FeedbackExport
	require.NoError(t, json.Unmarshal(raw, &exported))
	require.Len(t, exported.Feedback, 1)
	assert.Equal(t, "WARFARIN", exported.Feedback[0].Drug)
}
