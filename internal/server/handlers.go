package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/mapper"
	"github.com/xkilldash9x/tmscan/internal/store"
	"github.com/xkilldash9x/tmscan/internal/vcs"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// SaveToGitHubRequest is a diagram plus the destination of its threat model.
type SaveToGitHubRequest struct {
	Filename      string `json:"filename"`
	CommitMessage string `json:"commitMessage"`
}

// ParseResponse is the mapped project plus every item that was skipped while
// mapping it.
type ParseResponse struct {
	*schemas.Project
	Diagnostics []schemas.Diagnostic `json:"diagnostics,omitempty"`
}

// FetchFileRequest names a file in a caller-chosen repository.
type FetchFileRequest struct {
	Repo  string `json:"repo"`
	Path  string `json:"path"`
	Token string `json:"token"`
}

// FetchFileResponse carries decoded file content.
type FetchFileResponse struct {
	Content string `json:"content"`
}

// PushFileRequest writes content to a caller-chosen repository.
type PushFileRequest struct {
	Repo    string `json:"repo"`
	Path    string `json:"path"`
	Content string `json:"content"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

type handlers struct {
	log  *zap.Logger
	deps Deps
}

func (h *handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "engine": "online"})
}

// mapRequest decodes and maps a diagram body. On failure it has already
// written the response.
func (h *handlers) mapRequest(w http.ResponseWriter, r *http.Request) ([]byte, *schemas.DiagramRequest, *schemas.Project, []schemas.Diagnostic, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyError(w, err)
		return nil, nil, nil, nil, false
	}
	req, project, diags, err := h.deps.Mapper.Map(body)
	if err != nil {
		h.log.Warn("Mapping error", zap.Error(err))
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Failed to map diagram to OTM: %v", err))
		return nil, nil, nil, nil, false
	}
	h.deps.Metrics.ObserveDiagnostics(diags)
	for _, d := range diags {
		h.log.Debug("Diagram item skipped", zap.String("diagnostic", d.String()))
	}
	return body, req, project, diags, true
}

func (h *handlers) handleParse(w http.ResponseWriter, r *http.Request) {
	_, _, project, diags, ok := h.mapRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ParseResponse{Project: project, Diagnostics: diags})
}

func (h *handlers) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	_, req, project, diags, ok := h.mapRequest(w, r)
	if !ok {
		return
	}
	report := h.deps.Analyzer.Analyze(r.Context(), project, req.CustomRules)
	if len(diags) > 0 {
		report.Diagnostics = append(diags, report.Diagnostics...)
	}
	h.deps.Metrics.ObserveReport(report)

	if h.deps.Store != nil {
		reportID, err := h.deps.Store.SaveAnalysis(r.Context(), project, report)
		if err != nil {
			// The analysis itself succeeded; persistence is best effort.
			h.log.Error("Failed to persist report", zap.String("project_id", report.ProjectID), zap.Error(err))
		} else {
			w.Header().Set("X-Report-Id", reportID)
		}
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) handleSaveToGitHub(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repository == nil {
		writeDetail(w, http.StatusServiceUnavailable, "GitHub integration is not available")
		return
	}
	body, req, project, _, ok := h.mapRequest(w, r)
	if !ok {
		return
	}
	var dest SaveToGitHubRequest
	if err := json.Unmarshal(body, &dest); err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if dest.Filename == "" {
		dest.Filename = req.ProjectID + ".otm.json"
	}

	var buf bytes.Buffer
	if err := mapper.EncodeProject(&buf, project); err != nil {
		writeDetail(w, http.StatusInternalServerError, "Failed to encode threat model")
		return
	}
	res, err := h.deps.Repository.SaveOTM(r.Context(), dest.Filename, buf.String(), dest.CommitMessage)
	if err != nil {
		h.writeRepositoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) handleFetchFile(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repository == nil {
		writeDetail(w, http.StatusServiceUnavailable, "GitHub integration is not available")
		return
	}
	var req FetchFileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeDetail(w, http.StatusBadRequest, "path is required")
		return
	}
	content, err := h.deps.Repository.FetchFile(r.Context(), req.Repo, req.Path, req.Token)
	if err != nil {
		h.writeRepositoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FetchFileResponse{Content: content})
}

func (h *handlers) handlePushFile(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repository == nil {
		writeDetail(w, http.StatusServiceUnavailable, "GitHub integration is not available")
		return
	}
	var req PushFileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeDetail(w, http.StatusBadRequest, "path is required")
		return
	}
	res, err := h.deps.Repository.PushFile(r.Context(), req.Repo, req.Path, req.Content, req.Message, req.Token)
	if err != nil {
		h.writeRepositoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Report storage is not configured")
		return
	}
	report, err := h.deps.Store.GetReport(r.Context(), chi.URLParam(r, "reportID"))
	if errors.Is(err, store.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Report not found")
		return
	}
	if err != nil {
		h.log.Error("Failed to load report", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "Internal error retrieving report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) handleListReports(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Report storage is not configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeDetail(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := h.deps.Store.ListReports(r.Context(), chi.URLParam(r, "projectID"), limit)
	if err != nil {
		h.log.Error("Failed to list reports", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "Internal error listing reports")
		return
	}
	if records == nil {
		records = []store.ReportRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handlers) writeRepositoryError(w http.ResponseWriter, err error) {
	var ghErr *vcs.Error
	switch {
	case errors.Is(err, vcs.ErrNotConfigured):
		writeDetail(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &ghErr):
		h.log.Warn("GitHub request failed", zap.Int("status", ghErr.StatusCode), zap.Error(err))
		writeDetail(w, http.StatusBadGateway, err.Error())
	default:
		writeDetail(w, http.StatusBadRequest, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyError(w, err)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeDetail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
