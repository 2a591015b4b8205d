package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zapleads/zapleads/internal/dispatch"
	"github.com/zapleads/zapleads/internal/models"
	"github.com/zapleads/zapleads/internal/prospect"
	"github.com/zapleads/zapleads/internal/repository"
	"github.com/zapleads/zapleads/internal/validate"
)

// CampaignRequest is the body for creating or updating a campaign
type CampaignRequest struct {
	Name            string `json:"name"`
	Instance        string `json:"instance"`
	MessageTemplate string `json:"message_template"`
	MinIntervalMin  int    `json:"min_interval_minutes"`
	MaxIntervalMin  int    `json:"max_interval_minutes"`
}

// ControlResponse is the outcome of a start/pause/resume/cancel command
type ControlResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// LeadRequest is the body for adding a single lead
type LeadRequest struct {
	BusinessName string `json:"business_name"`
	Phone        string `json:"phone"`
}

// LeadImportRequest is the body for bulk lead import
type LeadImportRequest struct {
	Leads []LeadRequest `json:"leads"`
}

// LeadImportResponse summarizes a bulk import
type LeadImportResponse struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// ProspectRequest is the body for triggering directory search
type ProspectRequest struct {
	Query    string `json:"query"`
	Location string `json:"location"`
}

// ListResponse is a paginated collection
type ListResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleCampaignCreate handles POST /api/v1/campaigns
func (s *Server) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.MinIntervalMin == 0 {
		req.MinIntervalMin = s.cfg.Dispatch.DefaultMinIntervalMin
	}
	if req.MaxIntervalMin == 0 {
		req.MaxIntervalMin = s.cfg.Dispatch.DefaultMaxIntervalMin
	}
	if msg := validateCampaignRequest(&req); msg != "" {
		s.sendError(w, http.StatusBadRequest, msg)
		return
	}

	c := &models.Campaign{
		Name:            req.Name,
		Instance:        req.Instance,
		MessageTemplate: req.MessageTemplate,
		MinIntervalMin:  req.MinIntervalMin,
		MaxIntervalMin:  req.MaxIntervalMin,
	}
	if err := s.campaigns.Create(c); err != nil {
		s.logger.Error("failed to create campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create campaign")
		return
	}

	s.sendJSON(w, http.StatusCreated, c)
}

// validateCampaignRequest rejects configuration errors before any state
// is created. Interval bounds are never silently swapped.
func validateCampaignRequest(req *CampaignRequest) string {
	if req.Name == "" {
		return "name is required"
	}
	if req.Instance == "" {
		return "instance is required"
	}
	if req.MessageTemplate == "" {
		return "message_template is required"
	}
	if req.MinIntervalMin < 1 {
		return "min_interval_minutes must be at least 1"
	}
	if req.MaxIntervalMin < req.MinIntervalMin {
		return "max_interval_minutes must not be less than min_interval_minutes"
	}
	return ""
}

// handleCampaignList handles GET /api/v1/campaigns
func (s *Server) handleCampaignList(w http.ResponseWriter, r *http.Request) {
	filter := models.CampaignListFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = models.CampaignStatus(status)
	}

	campaigns, total, err := s.campaigns.List(filter)
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}

	s.sendJSON(w, http.StatusOK, ListResponse{Items: campaigns, Total: total})
}

// handleCampaignGet handles GET /api/v1/campaigns/{id}
func (s *Server) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleCampaignUpdate handles PUT /api/v1/campaigns/{id}
func (s *Server) handleCampaignUpdate(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}
	if c.Status == models.StatusActive {
		s.sendError(w, http.StatusConflict, "Cannot edit a dispatching campaign")
		return
	}

	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := validateCampaignRequest(&req); msg != "" {
		s.sendError(w, http.StatusBadRequest, msg)
		return
	}

	c.Name = req.Name
	c.Instance = req.Instance
	c.MessageTemplate = req.MessageTemplate
	c.MinIntervalMin = req.MinIntervalMin
	c.MaxIntervalMin = req.MaxIntervalMin

	if err := s.campaigns.Update(c); err != nil {
		s.logger.Error("failed to update campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to update campaign")
		return
	}

	s.sendJSON(w, http.StatusOK, c)
}

// handleCampaignDelete handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleCampaignDelete(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	// Stop a live run before the record goes away
	if c.Status == models.StatusActive {
		if err := s.engine.Cancel(c.ID); err != nil {
			s.logger.Warn("failed to cancel before delete", "campaign_id", c.ID, "error", err)
		}
	}

	if err := s.campaigns.Delete(c.ID); err != nil {
		s.logger.Error("failed to delete campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete campaign")
		return
	}
	s.board.Drop(c.ID)

	w.WriteHeader(http.StatusNoContent)
}

// handleStart handles POST /api/v1/campaigns/{id}/start
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "dispatch started", func(id string) error {
		return s.engine.Start(r.Context(), id)
	})
}

// handlePause handles POST /api/v1/campaigns/{id}/pause
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "dispatch paused", func(id string) error {
		return s.engine.Pause(id)
	})
}

// handleResume handles POST /api/v1/campaigns/{id}/resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "dispatch resumed", func(id string) error {
		return s.engine.Resume(r.Context(), id)
	})
}

// handleCancel handles POST /api/v1/campaigns/{id}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "dispatch cancelled", func(id string) error {
		return s.engine.Cancel(id)
	})
}

// control runs an engine command and maps its conditions to a
// {success, message} response. Operator-facing conditions come back as
// success=false, never as a server error.
func (s *Server) control(w http.ResponseWriter, r *http.Request, okMsg string, op func(id string) error) {
	id := chi.URLParam(r, "id")

	err := op(id)
	if err == nil {
		s.sendJSON(w, http.StatusOK, ControlResponse{Success: true, Message: okMsg})
		return
	}

	if errors.Is(err, dispatch.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}

	switch {
	case errors.Is(err, dispatch.ErrAlreadyDispatching),
		errors.Is(err, dispatch.ErrNothingToSend),
		errors.Is(err, dispatch.ErrGatewayUnavailable),
		errors.Is(err, dispatch.ErrNotDispatchable),
		errors.Is(err, dispatch.ErrNotDispatching),
		errors.Is(err, dispatch.ErrFinished):
		s.sendJSON(w, http.StatusOK, ControlResponse{Success: false, Message: err.Error()})
	default:
		s.logger.Error("control command failed", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Command failed")
	}
}

// handleProgress handles GET /api/v1/campaigns/{id}/progress
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	snap := s.board.Snapshot(c.ID)
	// The persisted record is the truth for aggregates; the in-memory
	// board only ever lags it.
	snap.TotalLeads = c.TotalLeads
	snap.SentMessages = c.SentMessages
	snap.FailedMessages = c.FailedMessages
	if snap.Stage == dispatch.StageIdle {
		snap.Stage = stageFromStatus(c.Status)
		snap.NextDispatchAt = c.NextDispatchAt
		snap.EstimatedCompletionAt = c.EstimatedCompletionAt
	}

	s.sendJSON(w, http.StatusOK, snap)
}

// stageFromStatus derives a cold-start stage from the persisted status,
// for snapshots that predate this process.
func stageFromStatus(status models.CampaignStatus) dispatch.Stage {
	switch status {
	case models.StatusSearching:
		return dispatch.StageSearching
	case models.StatusValidating:
		return dispatch.StageValidating
	case models.StatusActive:
		return dispatch.StageDispatching
	case models.StatusPaused:
		return dispatch.StagePaused
	case models.StatusCompleted:
		return dispatch.StageCompleted
	case models.StatusCancelled:
		return dispatch.StageCancelled
	default:
		return dispatch.StageIdle
	}
}

// handleLeadAdd handles POST /api/v1/campaigns/{id}/leads
func (s *Server) handleLeadAdd(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	var req LeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	lead, errMsg := s.importLead(c.ID, req)
	if errMsg != "" {
		s.sendError(w, http.StatusBadRequest, errMsg)
		return
	}

	if err := s.campaigns.RefreshTotalLeads(c.ID); err != nil {
		s.logger.Error("failed to refresh lead totals", "error", err)
	}
	s.sendJSON(w, http.StatusCreated, lead)
}

// handleLeadImport handles POST /api/v1/campaigns/{id}/leads/import
func (s *Server) handleLeadImport(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	var req LeadImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Leads) == 0 {
		s.sendError(w, http.StatusBadRequest, "leads is required")
		return
	}

	resp := LeadImportResponse{}
	for i, lr := range req.Leads {
		if _, errMsg := s.importLead(c.ID, lr); errMsg != "" {
			resp.Skipped++
			resp.Errors = append(resp.Errors, fmt.Sprintf("lead %d: %s", i+1, errMsg))
			continue
		}
		resp.Imported++
	}

	if err := s.campaigns.RefreshTotalLeads(c.ID); err != nil {
		s.logger.Error("failed to refresh lead totals", "error", err)
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// importLead canonicalizes and inserts one lead
func (s *Server) importLead(campaignID string, req LeadRequest) (*models.CampaignLead, string) {
	phone, err := validate.Canonicalize(req.Phone, s.cfg.Validation.DefaultCountryCode)
	if err != nil {
		return nil, err.Error()
	}

	exists, err := s.leads.ExistsByPhone(campaignID, phone)
	if err != nil {
		s.logger.Error("lead lookup failed", "error", err)
		return nil, "lead lookup failed"
	}
	if exists {
		return nil, fmt.Sprintf("phone %s already in campaign", phone)
	}

	lead := &models.CampaignLead{
		CampaignID:   campaignID,
		BusinessName: req.BusinessName,
		Phone:        phone,
	}
	if err := s.leads.Create(lead); err != nil {
		s.logger.Error("failed to create lead", "error", err)
		return nil, "failed to create lead"
	}
	return lead, ""
}

// handleLeadList handles GET /api/v1/campaigns/{id}/leads
func (s *Server) handleLeadList(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	filter := models.LeadListFilter{
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.MessageStatus = models.MessageStatus(status)
	}
	if valid := r.URL.Query().Get("valid"); valid != "" {
		filter.WhatsAppValid = models.WhatsAppValidity(valid)
	}

	leads, total, err := s.leads.List(c.ID, filter)
	if err != nil {
		s.logger.Error("failed to list leads", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list leads")
		return
	}

	s.sendJSON(w, http.StatusOK, ListResponse{Items: leads, Total: total})
}

// handleProspect handles POST /api/v1/campaigns/{id}/prospect
func (s *Server) handleProspect(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	var req ProspectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Query == "" {
		s.sendError(w, http.StatusBadRequest, "query is required")
		return
	}

	if err := s.prospector.Run(c.ID, req.Query, req.Location); err != nil {
		if errors.Is(err, prospect.ErrAcquisitionRunning) || errors.Is(err, repository.ErrIllegalTransition) {
			s.sendJSON(w, http.StatusOK, ControlResponse{Success: false, Message: err.Error()})
			return
		}
		s.logger.Error("failed to start acquisition", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to start acquisition")
		return
	}

	s.sendJSON(w, http.StatusAccepted, ControlResponse{Success: true, Message: "lead acquisition started"})
}

// handleValidate handles POST /api/v1/campaigns/{id}/validate
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	if err := s.prospector.RunValidation(c.ID); err != nil {
		s.sendJSON(w, http.StatusOK, ControlResponse{Success: false, Message: err.Error()})
		return
	}
	s.sendJSON(w, http.StatusAccepted, ControlResponse{Success: true, Message: "validation started"})
}

// handleLogList handles GET /api/v1/campaigns/{id}/logs
func (s *Server) handleLogList(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	logs, err := s.logs.ListByCampaign(c.ID, queryInt(r, "limit", 100))
	if err != nil {
		s.logger.Error("failed to list message logs", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list logs")
		return
	}

	s.sendJSON(w, http.StatusOK, ListResponse{Items: logs, Total: len(logs)})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).String(),
	})
}

// loadCampaign resolves the {id} URL param, writing the error response
// itself when the campaign cannot be loaded.
func (s *Server) loadCampaign(w http.ResponseWriter, r *http.Request) *models.Campaign {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "id is required")
		return nil
	}

	c, err := s.campaigns.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get campaign", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return nil
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return nil
	}
	return c
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
