package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterlabs/specd/internal/model"
	"github.com/arbiterlabs/specd/internal/specerr"
)

// handleStream upgrades the request to the duplex connection SPEC_FULL.md
// §4.6 describes, then hands it to the Fan-out Fabric. This is the one
// piece of "HTTP routing surface" spec.md §1 keeps in scope.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	auth := authFromContext(r.Context())
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("duplex upgrade failed", zap.Error(err))
		return
	}
	if _, err := s.fabric.Accept(ws, auth); err != nil {
		s.logger.Info("duplex connection rejected", zap.Error(err))
		_ = ws.Close()
	}
}

type upsertFragmentRequest struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Message  string `json:"message"`
	TicketID string `json:"ticketId"`
	PlanHash string `json:"planHash"`
}

type upsertFragmentResponse struct {
	Fragment   fragmentView              `json:"fragment"`
	Validation orchestratorValidationView `json:"validation"`
}

type fragmentView struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Path      string    `json:"path"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type orchestratorValidationView struct {
	OK       bool     `json:"ok"`
	SpecHash string   `json:"specHash,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (s *Server) handleUpsertFragment(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	if projectID == "" {
		writeProblemf(w, specerr.KindBadRequest, "projectId is required")
		return
	}

	var req upsertFragmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblemf(w, specerr.KindBadRequest, "invalid request body: "+err.Error())
		return
	}

	auth := authFromContext(r.Context())
	fragment, summary, err := s.orchestrator.UpsertFragment(r.Context(), projectID, req.Path, req.Content, auth.Identity(), req.Message, req.TicketID, req.PlanHash)
	if err != nil {
		writeProblem(w, err)
		return
	}

	writeJSON(w, http.StatusOK, upsertFragmentResponse{
		Fragment: fragmentView{
			ID:        fragment.ID,
			ProjectID: fragment.ProjectID,
			Path:      fragment.Path,
			UpdatedAt: fragment.UpdatedAt,
		},
		Validation: orchestratorValidationView{
			OK:       summary.OK,
			SpecHash: summary.SpecHash,
			Errors:   summary.Errors,
			Warnings: summary.Warnings,
		},
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	if projectID == "" {
		writeProblemf(w, specerr.KindBadRequest, "projectId is required")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeProblemf(w, specerr.KindBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	includeInactive := r.URL.Query().Get("includeInactive") == "true"

	events, err := s.journal.List(r.Context(), projectID, limit, time.Time{}, includeInactive)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type setHeadRequest struct {
	EventID string `json:"eventId"`
}

func (s *Server) handleSetHead(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	var req setHeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblemf(w, specerr.KindBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := s.orchestrator.SetHead(r.Context(), projectID, req.EventID)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type revertRequest struct {
	EventIDs []string `json:"eventIds"`
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	var req revertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblemf(w, specerr.KindBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.EventIDs) == 0 {
		writeProblemf(w, specerr.KindBadRequest, "eventIds must be non-empty")
		return
	}

	res, err := s.orchestrator.Revert(r.Context(), projectID, req.EventIDs)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type issueTicketRequest struct {
	PlanHash string `json:"planHash"`
	RepoSHA  string `json:"repoSha"`
	TTLMS    int    `json:"ttlMs"`
}

func (s *Server) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	if s.tickets == nil {
		writeProblemf(w, specerr.KindInternal, "ticket issuance is not enabled on this deployment")
		return
	}
	var req issueTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblemf(w, specerr.KindBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.PlanHash == "" {
		writeProblemf(w, specerr.KindBadRequest, "planHash is required")
		return
	}

	ttl := s.cfg.DefaultTicketTTL
	if req.TTLMS > 0 {
		ttl = time.Duration(req.TTLMS) * time.Millisecond
	}
	scopes := s.cfg.TicketScopes
	if len(scopes) == 0 {
		scopes = []model.TicketScope{"write"}
	}

	t := s.tickets.Issue(req.PlanHash, req.RepoSHA, scopes, ttl)
	if s.metrics != nil {
		s.metrics.TicketIssued.Inc()
	}
	writeJSON(w, http.StatusCreated, t)
}
