package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/forgehost/internal/httpserver"
)

// LogRow is one row of the audit log as returned over HTTP.
type LogRow struct {
	ID         uuid.UUID  `json:"id"`
	CompanyID  *uuid.UUID `json:"company_id,omitempty"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Action     string     `json:"action"`
	Resource   string     `json:"resource"`
	ResourceID *uuid.UUID `json:"resource_id,omitempty"`
	Cause      string     `json:"cause,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Handler serves the audit log API, scoped to the requesting actor's company.
type Handler struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewHandler creates an audit log Handler.
func NewHandler(db *pgxpool.Pool, logger *slog.Logger) *Handler {
	return &Handler{db: db, logger: logger}
}

// Routes returns a chi.Router with audit log routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpserver.ActorFromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "no authenticated actor")
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	rows, err := h.db.Query(r.Context(), `
		SELECT id, company_id, user_id, action, resource, resource_id, cause, created_at
		FROM audit_log WHERE company_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		actor.CompanyID, params.PageSize, params.Offset,
	)
	if err != nil {
		h.logger.Error("listing audit log", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}
	defer rows.Close()

	var entries []LogRow
	for rows.Next() {
		var e LogRow
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.UserID, &e.Action, &e.Resource, &e.ResourceID, &e.Cause, &e.CreatedAt); err != nil {
			h.logger.Error("scanning audit log row", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
			return
		}
		entries = append(entries, e)
	}

	httpserver.Respond(w, http.StatusOK, entries)
}
