package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pharmgx-risk-server/internal/domain"
	"github.com/pharmgx-risk-server/internal/feedback"
	"github.com/pharmgx-risk-server/internal/middleware"
	"github.com/pharmgx-risk-server/internal/service"
)

const (
	defaultFeedbackPage = 50
	maxFeedbackPage     = 500
)

// missingFileBody is the response for an upload without a vcf_file part
var missingFileBody = gin.H{"error": "No VCF file uploaded."}

type streamRequest struct {
	VCFContent string `json:"vcf_content"`
	Drugs      string `json:"drugs"`
}

type feedbackRequest struct {
	Drug               string `json:"drug" binding:"required"`
	Gene               string `json:"gene"`
	Diplotype          string `json:"diplotype" binding:"required"`
	Phenotype          string `json:"phenotype"`
	SuggestedRiskLabel string `json:"suggested_risk_label" binding:"required"`
	ClinicianRiskLabel string `json:"clinician_risk_label"`
	Notes              string `json:"notes"`
}

func (s *Server) apiError(c *gin.Context, status int, code, message, details string) {
	c.JSON(status, domain.NewAPIError(code, message, details, c.GetString(middleware.CorrelationIDKey)))
}

// handleAnalyze accepts a multipart upload with a vcf_file part and a
// comma-separated drugs field.
func (s *Server) handleAnalyze(c *gin.Context) {
	if limit := s.configManager.GetServerConfig().MaxUploadBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	fileHeader, err := c.FormFile("vcf_file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.apiError(c, http.StatusRequestEntityTooLarge, domain.ErrCodeInvalidInput, "Upload too large", "")
			return
		}
		c.JSON(http.StatusBadRequest, missingFileBody)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		s.apiError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, "Could not read upload", err.Error())
		return
	}
	defer file.Close()

	drugs := service.ParseDrugRequest(c.PostForm("drugs"))
	report := s.analyzer.AnalyzeStream(c.Request.Context(), file, drugs)

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		s.apiError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, "Could not encode results", err.Error())
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

// handleAnalyzeStream upgrades to a WebSocket, reads one streamRequest and
// writes one DrugResult per message before closing normally.
func (s *Server) handleAnalyzeStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	if limit := s.configManager.GetServerConfig().MaxUploadBytes; limit > 0 {
		conn.SetReadLimit(limit)
	}

	var req streamRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "invalid request"))
		return
	}

	err = s.analyzer.Stream(c.Request.Context(), []byte(req.VCFContent), service.ParseDrugRequest(req.Drugs),
		func(result domain.DrugResult) error {
			return conn.WriteJSON(result)
		})
	if err != nil {
		s.logger.WithError(err).Warn("Analysis stream aborted")
		return
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) handleListDrugs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"drugs": s.analyzer.Registry().Entries()})
}

func (s *Server) requireFeedback(c *gin.Context) bool {
	if s.feedback == nil {
		s.apiError(c, http.StatusServiceUnavailable, domain.ErrCodeStorage, "Feedback storage is disabled", "")
		return false
	}
	return true
}

func (s *Server) handleSubmitFeedback(c *gin.Context) {
	if !s.requireFeedback(c) {
		return
	}

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.apiError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "Invalid feedback request", err.Error())
		return
	}

	fb := &feedback.Feedback{
		Drug:               req.Drug,
		Gene:               req.Gene,
		Diplotype:          req.Diplotype,
		Phenotype:          domain.Phenotype(req.Phenotype),
		SuggestedRiskLabel: req.SuggestedRiskLabel,
		ClinicianRiskLabel: req.ClinicianRiskLabel,
		Notes:              req.Notes,
	}
	fb.Normalize()

	gene, ok := s.analyzer.Registry().GeneFor(fb.Drug)
	if !ok {
		s.apiError(c, http.StatusBadRequest, domain.ErrCodeValidation, "Unsupported drug", fb.Drug)
		return
	}
	if fb.Gene == "" {
		fb.Gene = gene
	}

	if err := s.feedback.Save(c.Request.Context(), fb); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			s.apiError(c, http.StatusBadRequest, domain.ErrCodeValidation, verr.Message, verr.Field)
			return
		}
		s.apiError(c, http.StatusInternalServerError, domain.ErrCodeStorage, "Could not save feedback", err.Error())
		return
	}

	c.JSON(http.StatusCreated, fb)
}

func (s *Server) handleListFeedback(c *gin.Context) {
	if !s.requireFeedback(c) {
		return
	}

	limit := queryInt(c, "limit", defaultFeedbackPage)
	if limit <= 0 || limit > maxFeedbackPage {
		limit = defaultFeedbackPage
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	ctx := c.Request.Context()
	entries, err := s.feedback.List(ctx, limit, offset)
	if err != nil {
		s.apiError(c, http.StatusInternalServerError, domain.ErrCodeStorage, "Could not list feedback", err.Error())
		return
	}
	total, err := s.feedback.Count(ctx)
	if err != nil {
		s.apiError(c, http.StatusInternalServerError, domain.ErrCodeStorage, "Could not count feedback", err.Error())
		return
	}
	if entries == nil {
		entries = []*feedback.Feedback{}
	}

	c.JSON(http.StatusOK, gin.H{
		"feedback": entries,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) handleExportFeedback(c *gin.Context) {
	if !s.requireFeedback(c) {
		return
	}

	var buf bytes.Buffer
	if err := s.feedback.ExportJSON(c.Request.Context(), &buf); err != nil {
		s.apiError(c, http.StatusInternalServerError, domain.ErrCodeStorage, "Could not export feedback", err.Error())
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=feedback-%s.json", uuid.New().String()))
	c.Data(http.StatusOK, "application/json", buf.Bytes())
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
