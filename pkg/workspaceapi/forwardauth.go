package workspaceapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/forgehost/internal/httpserver"
)

// ForwardAuthHandler implements GET /api/auth/verify (spec §6, §4.4): the
// reverse proxy's forward-auth middleware calls this once per request,
// trusting X-Workspace-Host and forwarding the caller's Cookie header. The
// session itself is authenticated upstream of the core (spec §9 Non-goal:
// "password hashing / session protection ... the core accepts an
// authenticated actor object"); this handler only decides whether the
// already-authenticated actor owns the workspace behind that hostname.
func (h *Handler) ForwardAuthHandler(loginURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceHost := r.Header.Get("X-Workspace-Host")
		subdomain := strings.SplitN(workspaceHost, ".", 2)[0]

		actor, ok := httpserver.ActorFromContext(r.Context())
		if !ok || subdomain == "" {
			h.redirectToLogin(w, r, loginURL, workspaceHost)
			return
		}

		company, err := h.companies.GetBySubdomain(r.Context(), subdomain)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				httpserver.RespondError(w, http.StatusNotFound, "not_found", "no workspace at this host")
				return
			}
			h.logger.Error("forward-auth: resolving company by subdomain", "error", err, "subdomain", subdomain)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "forward-auth lookup failed")
			return
		}

		if company.ID != actor.CompanyID {
			httpserver.RespondError(w, http.StatusForbidden, "forbidden", "session does not own this workspace")
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) redirectToLogin(w http.ResponseWriter, r *http.Request, loginURL, workspaceHost string) {
	next := (&url.URL{Scheme: "https", Host: workspaceHost, Path: r.URL.Path}).String()
	target := loginURL + "?next=" + url.QueryEscape(next)
	http.Redirect(w, r, target, http.StatusFound)
}
