// Package workspaceapi implements the workspace-facing HTTP surface of
// spec §6: create, lifecycle (start/stop/restart), status polling, SSH
// verification resume, log tailing, and the reverse-proxy forward-auth
// check.
package workspaceapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/forgehost/internal/apierr"
	"github.com/wisbric/forgehost/internal/audit"
	"github.com/wisbric/forgehost/internal/httpserver"
	"github.com/wisbric/forgehost/pkg/provision"
	"github.com/wisbric/forgehost/pkg/store"
)

// Handler provides HTTP handlers for the workspace API.
type Handler struct {
	logger      *slog.Logger
	audit       *audit.Writer
	provisioner *provision.Provisioner
	dispatcher  *provision.Dispatcher
	workspaces  *store.WorkspaceStore
	companies   *store.CompanyStore
	users       *store.UserStore
	executions  *store.ExecutionStore
}

// NewHandler creates a workspace Handler. dispatcher runs the OS-level side
// of workspace creation off the request goroutine (spec §5, §6).
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer, provisioner *provision.Provisioner, dispatcher *provision.Dispatcher, workspaces *store.WorkspaceStore, companies *store.CompanyStore, users *store.UserStore, executions *store.ExecutionStore) *Handler {
	return &Handler{
		logger: logger, audit: auditWriter, provisioner: provisioner, dispatcher: dispatcher,
		workspaces: workspaces, companies: companies, users: users, executions: executions,
	}
}

// Routes returns a chi.Router with all workspace routes mounted, intended
// to be mounted under the Actor-authenticated /api/v1 sub-router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Route("/{id}", func(r chi.Router) {
		r.Post("/start", h.handleLifecycle(h.provisioner.Start))
		r.Post("/stop", h.handleLifecycle(h.provisioner.Stop))
		r.Post("/restart", h.handleLifecycle(h.provisioner.Restart))
		r.Get("/status", h.handleStatus)
		r.Post("/verify-ssh", h.handleVerifySSH)
		r.Get("/logs", h.handleLogs)
	})
	return r
}

// CreateRequest is the body of POST /workspaces (spec §6).
type CreateRequest struct {
	Name       string     `json:"name" validate:"required,min=1,max=64"`
	TemplateID *uuid.UUID `json:"template_id"`
}

// CreateResponse is returned for a successful POST /workspaces (spec §6:
// "returns 202 and a polling URL").
type CreateResponse struct {
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Status      string    `json:"status"`
	PollURL     string    `json:"poll_url"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpserver.ActorFromContext(r.Context())

	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	company, err := h.companies.Get(r.Context(), actor.CompanyID)
	if err != nil {
		h.logger.Error("create workspace: loading company", "error", err, "company_id", actor.CompanyID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load company")
		return
	}

	user, err := h.users.Get(r.Context(), actor.UserID)
	if err != nil {
		h.logger.Error("create workspace: loading user", "error", err, "user_id", actor.UserID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load user")
		return
	}

	// Quota is checked against actual workspace counts, not a static
	// allocation: both the creating user's own quota and the company-wide
	// cap must have room (spec §6 "quota (user and company)").
	userCount, err := h.workspaces.CountByOwner(r.Context(), actor.UserID)
	if err != nil {
		h.logger.Error("create workspace: checking user quota", "error", err, "user_id", actor.UserID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to check quota")
		return
	}
	if userCount >= user.WorkspaceQuota {
		httpserver.RespondError(w, http.StatusBadRequest, "quota_exceeded", "user has reached their workspace limit")
		return
	}

	companyCount, err := h.companies.CountWorkspaces(r.Context(), actor.CompanyID)
	if err != nil {
		h.logger.Error("create workspace: checking company quota", "error", err, "company_id", actor.CompanyID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to check quota")
		return
	}
	if companyCount >= company.MaxWorkspaces {
		httpserver.RespondError(w, http.StatusBadRequest, "quota_exceeded", "company has reached its workspace limit")
		return
	}

	ws, company, err := h.provisioner.Reserve(r.Context(), provision.CreateRequest{
		CompanyID:       actor.CompanyID,
		OwnerUserID:     actor.UserID,
		Name:            req.Name,
		TemplateID:      req.TemplateID,
		AutoStopHours:   defaultAutoStopHours,
		DiskQuotaGB:     store.PlanStorageGB(company.Plan),
		CPULimitPercent: defaultCPULimitPercent,
		MemoryLimitMB:   defaultMemoryLimitMB,
	})
	if err != nil {
		h.logAndRespond(w, r, actor, "create_workspace", uuid.Nil, err)
		return
	}

	h.dispatcher.Submit(ws, company)

	if h.audit != nil {
		h.audit.Log(audit.Entry{CompanyID: &actor.CompanyID, UserID: &actor.UserID, Action: "create", Resource: "workspace", ResourceID: ws.ID})
	}

	httpserver.Respond(w, http.StatusAccepted, CreateResponse{
		WorkspaceID: ws.ID,
		Status:      ws.Status,
		PollURL:     "/api/v1/workspaces/" + ws.ID.String() + "/status",
	})
}

const (
	defaultAutoStopHours   = 2
	defaultCPULimitPercent = 100
	defaultMemoryLimitMB   = 2048
)

// lifecycleResponse is the JSON shape of every start/stop/restart call
// (spec §6: "JSON {success, message} or 4xx/5xx").
type lifecycleResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleLifecycle builds a handler around one of the Provisioner's
// keyed-serialized start/stop/restart operations (spec §6: "Keyed-serialized
// per workspace").
func (h *Handler) handleLifecycle(op func(ctx context.Context, id uuid.UUID) (store.Workspace, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := httpserver.ActorFromContext(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workspace ID")
			return
		}

		if err := h.requireOwnership(r.Context(), actor.CompanyID, id); err != nil {
			h.logAndRespond(w, r, actor, "workspace_lifecycle", id, err)
			return
		}

		ws, err := op(r.Context(), id)
		if err != nil {
			h.logAndRespond(w, r, actor, "workspace_lifecycle", id, err)
			return
		}

		httpserver.Respond(w, http.StatusOK, lifecycleResponse{Success: true, Message: ws.Status})
	}
}

// statusActionView is the shape of one action entry in the status response
// (spec §6: "actions:[{action_name, status, started_at, completed_at,
// duration_seconds?, elapsed_seconds?, error_message?}]").
type statusActionView struct {
	ActionID        string   `json:"action_name"`
	Status          string   `json:"status"`
	StartedAt       *string  `json:"started_at,omitempty"`
	CompletedAt     *string  `json:"completed_at,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	ElapsedSeconds  *float64 `json:"elapsed_seconds,omitempty"`
	ErrorMessage    string   `json:"error_message,omitempty"`
}

type statusResponse struct {
	IsRunning         bool                `json:"is_running"`
	Status            string              `json:"status"`
	ProgressPercent   int                 `json:"progress_percent"`
	ProvisioningState string              `json:"provisioning_state"`
	Actions           []statusActionView  `json:"actions"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpserver.ActorFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workspace ID")
		return
	}

	ws, err := h.workspaces.Get(r.Context(), id)
	if err != nil {
		h.respondNotFoundOr500(w, err, "loading workspace")
		return
	}
	if ws.CompanyID != actor.CompanyID {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "workspace belongs to a different company")
		return
	}

	executions, err := h.executions.ListByWorkspace(r.Context(), id)
	if err != nil {
		h.logger.Error("loading workspace executions", "error", err, "workspace_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load workspace status")
		return
	}

	resp := statusResponse{
		IsRunning:         ws.IsRunning,
		Status:            ws.Status,
		ProvisioningState: ws.ProvisioningState,
		ProgressPercent:   progressPercent(executions),
		Actions:           make([]statusActionView, 0, len(executions)),
	}
	for _, e := range executions {
		view := statusActionView{ActionID: e.ActionID, Status: e.Status, ErrorMessage: e.ErrorMessage}
		if e.StartedAt != nil {
			s := e.StartedAt.UTC().Format(timeLayout)
			view.StartedAt = &s
			if e.CompletedAt == nil {
				elapsed := time.Since(*e.StartedAt).Seconds()
				view.ElapsedSeconds = &elapsed
			}
		}
		if e.CompletedAt != nil {
			c := e.CompletedAt.UTC().Format(timeLayout)
			view.CompletedAt = &c
		}
		view.DurationSeconds = e.DurationSeconds
		resp.Actions = append(resp.Actions, view)
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// progressPercent reports how much of a template's action sequence has
// reached a terminal state.
func progressPercent(executions []store.WorkspaceActionExecution) int {
	if len(executions) == 0 {
		return 100
	}
	done := 0
	for _, e := range executions {
		switch e.Status {
		case store.ExecCompleted, store.ExecSkipped, store.ExecFailed, store.ExecRolledBack:
			done++
		}
	}
	return done * 100 / len(executions)
}

// verifySSHResponse summarizes the resumed provisioning run (spec §6:
// "Triggers resume_after_ssh_verification; returns clone summary.").
type verifySSHResponse struct {
	Status            string `json:"status"`
	ProvisioningState string `json:"provisioning_state"`
}

func (h *Handler) handleVerifySSH(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpserver.ActorFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workspace ID")
		return
	}

	if err := h.requireOwnership(r.Context(), actor.CompanyID, id); err != nil {
		h.logAndRespond(w, r, actor, "verify_ssh", id, err)
		return
	}

	ws, err := h.provisioner.ResumeAfterSSHVerification(r.Context(), id)
	if err != nil {
		h.logAndRespond(w, r, actor, "verify_ssh", id, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, verifySSHResponse{Status: ws.Status, ProvisioningState: ws.ProvisioningState})
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpserver.ActorFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid workspace ID")
		return
	}

	if err := h.requireOwnership(r.Context(), actor.CompanyID, id); err != nil {
		h.logAndRespond(w, r, actor, "workspace_logs", id, err)
		return
	}

	lines := 0
	if v := r.URL.Query().Get("lines"); v != "" {
		lines, _ = strconv.Atoi(v)
	}
	since := r.URL.Query().Get("since")

	out, err := h.provisioner.Logs(r.Context(), id, lines, since)
	if err != nil {
		h.logAndRespond(w, r, actor, "workspace_logs", id, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"logs": out})
}

// requireOwnership confirms the workspace belongs to the actor's company
// before any lifecycle operation touches it.
func (h *Handler) requireOwnership(ctx context.Context, companyID uuid.UUID, workspaceID uuid.UUID) error {
	ws, err := h.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return err
	}
	if ws.CompanyID != companyID {
		return errCrossCompany
	}
	return nil
}

var errCrossCompany = errors.New("workspace belongs to a different company")

func (h *Handler) respondNotFoundOr500(w http.ResponseWriter, err error, action string) {
	if errors.Is(err, pgx.ErrNoRows) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "workspace not found")
		return
	}
	h.logger.Error(action, "error", err)
	httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", action)
}

// logAndRespond maps a core error to an HTTP response, using apierr's
// status mapping when the error carries one (spec §7 propagation policy),
// and records a failure audit entry.
func (h *Handler) logAndRespond(w http.ResponseWriter, r *http.Request, actor httpserver.Actor, action string, resourceID uuid.UUID, err error) {
	if errors.Is(err, errCrossCompany) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", err.Error())
		return
	}
	if errors.Is(err, pgx.ErrNoRows) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "workspace not found")
		return
	}

	status := apierr.StatusFor(err)
	h.logger.Error(action, "error", err, "workspace_id", resourceID)
	if h.audit != nil {
		h.audit.LogFailure(r, &actor.CompanyID, &actor.UserID, action, resourceID, err)
	}
	httpserver.RespondError(w, status, "action_failed", err.Error())
}
