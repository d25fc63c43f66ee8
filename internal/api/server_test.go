package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmgx-risk-server/internal/config"
	"github.com/pharmgx-risk-server/internal/domain"
	"github.com/pharmgx-risk-server/internal/feedback"
	"github.com/pharmgx-risk-server/internal/metrics"
	"github.com/pharmgx-risk-server/internal/service"
)

const sampleVCF = "##fileformat=VCFv4.2\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tPATIENT_7\n" +
	"10\t94981296\tid1\tC\tT\t.\tPASS\tGENE=CYP2C9;STAR=*3;RS=rs1057910\n" +
	"10\t94981296\tid2\tC\tT\t.\tPASS\tGENE=CYP2C9;STAR=*3\n"

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T, yaml string, opts ...ServerOption) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	cm, err := config.NewManagerFromFile(path)
	require.NoError(t, err)

	fixed := func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	analyzer := service.NewAnalyzer(nil, quietLogger(), service.WithClock(fixed))
	return NewServer(cm, analyzer, quietLogger(), opts...)
}

func multipartRequest(t *testing.T, path string, file string, drugs string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if file != "" {
		part, err := w.CreateFormFile("vcf_file", "patient.vcf")
		require.NoError(t, err)
		_, err = part.Write([]byte(file))
		require.NoError(t, err)
	}
	require.NoError(t, w.WriteField("drugs", drugs))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAnalyze(t *testing.T) {
	s := newTestServer(t, "{}\n")

	for _, path := range []string{"/analyze", "/api/v1/analyze"} {
		t.Run(path, func(t *testing.T) {
			rec := do(s, multipartRequest(t, path, sampleVCF, "warfarin, aspirin,CODEINE"))

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.True(t, strings.HasPrefix(rec.Body.String(), "{\n  \"results\": ["), "response is indented")

			var report domain.AnalysisReport
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			require.Len(t, report.Results, 2)

			warfarin := report.Results[0]
			assert.Equal(t, "PATIENT_7", warfarin.PatientID)
			assert.Equal(t, "WARFARIN", warfarin.Drug)
			assert.Equal(t, "*3/*3", warfarin.PharmacogenomicProfile.Diplotype)
			assert.Equal(t, "Toxic", warfarin.RiskAssessment.RiskLabel)
			assert.Equal(t, "2024-03-01T12:00:00.000000+00:00", warfarin.Timestamp)

			codeine := report.Results[1]
			assert.Equal(t, "CODEINE", codeine.Drug)
			assert.Equal(t, "*1/*1", codeine.PharmacogenomicProfile.Diplotype)
			assert.Equal(t, "Safe", codeine.RiskAssessment.RiskLabel)
		})
	}
}

func TestAnalyze_MissingFile(t *testing.T) {
	s := newTestServer(t, "{}\n")

	rec := do(s, multipartRequest(t, "/analyze", "", "CODEINE"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No VCF file uploaded."}`, rec.Body.String())

	rec = do(s, httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader("drugs=CODEINE")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No VCF file uploaded."}`, rec.Body.String())
}

func TestAnalyze_NoSupportedDrugs(t *testing.T) {
	s := newTestServer(t, "{}\n")

	rec := do(s, multipartRequest(t, "/api/v1/analyze", sampleVCF, "ASPIRIN"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"results":[]}`, rec.Body.String())
}

func TestListDrugs(t *testing.T) {
	s := newTestServer(t, "{}\n")

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/drugs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Drugs []domain.DrugGene `json:"drugs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Drugs, 6)
	assert.Equal(t, domain.DrugGene{Drug: "CODEINE", Gene: "CYP2D6"}, body.Drugs[0])
	assert.Equal(t, domain.DrugGene{Drug: "FLUOROURACIL", Gene: "DPYD"}, body.Drugs[5])
}

func TestHealthAndMetrics(t *testing.T) {
	collector := metrics.NewCollector()
	s := newTestServer(t, "{}\n", WithMetrics(collector))

	rec := do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"runtime"`)

	do(s, multipartRequest(t, "/api/v1/analyze", sampleVCF, "WARFARIN"))

	rec = do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pharmgx_http_requests_total{method="POST",route="/api/v1/analyze",status="OK"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	s := newTestServer(t, "metrics:\n  enabled: false\n", WithMetrics(metrics.NewCollector()))

	rec := do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, "server:\n  rate_limit: 1\n  rate_burst: 1\n")

	first := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/drugs", nil))
	second := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/drugs", nil))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), domain.ErrCodeRateLimit)
}

func TestFeedbackRoutes(t *testing.T) {
	store, err := feedback.NewSQLiteStore(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	defer store.Close()
	s := newTestServer(t, "{}\n", WithFeedbackStore(store))

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return do(s, req)
	}

	rec := post(`{"drug":"warfarin","diplotype":"*3/*3","phenotype":"PM","suggested_risk_label":"Toxic","clinician_risk_label":"Toxic"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var saved feedback.Feedback
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.Equal(t, "WARFARIN", saved.Drug)
	assert.Equal(t, "CYP2C9", saved.Gene, "gene comes from the registry")
	assert.True(t, saved.Agreed)

	rec = post(`{"drug":"ASPIRIN","diplotype":"*1/*1","suggested_risk_label":"Safe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.ErrCodeValidation)

	rec = post(`{"drug":"CODEINE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/v1/feedback?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Feedback []feedback.Feedback `json:"feedback"`
		Total    int64               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Feedback, 1)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/v1/feedback/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=feedback-")
	assert.Contains(t, rec.Body.String(), `"version": "1.0"`)
}

func TestFeedbackDisabled(t *testing.T) {
	s := newTestServer(t, "{}\n")

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/feedback", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.ErrCodeStorage)
}

func TestAnalyzeStream(t *testing.T) {
	s := newTestServer(t, "{}\n")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/analyze/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{
		"vcf_content": sampleVCF,
		"drugs":       "codeine,WARFARIN",
	}))

	var first, second domain.DrugResult
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "CODEINE", first.Drug)
	assert.Equal(t, "WARFARIN", second.Drug)
	assert.Equal(t, "Toxic", second.RiskAssessment.RiskLabel)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "expected normal close, got %v", err)
}

func TestAnalyzeStream_InvalidRequest(t *testing.T) {
	s := newTestServer(t, "{}\n")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/analyze/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseUnsupportedData), "expected unsupported-data close, got %v", err)
}
