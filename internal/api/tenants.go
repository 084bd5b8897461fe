package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/knollbase/knoll/internal/log"
	"github.com/knollbase/knoll/internal/tenant"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// tenantHandler exposes the tenant registry over HTTP.
type tenantHandler struct {
	store  TenantRegistry
	logger log.Logger
}

// tenantJSON is the wire form of a tenant.
type tenantJSON struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toTenantJSON(t tenant.Tenant) tenantJSON {
	return tenantJSON{ID: t.ID.String(), Name: t.Name, CreatedAt: t.CreatedAt}
}

type createTenantRequest struct {
	Name string `json:"name"`
}

func (h *tenantHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	t, err := h.store.Create(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, tenant.ErrInvalidName) {
			writeError(w, http.StatusBadRequest, "invalid_name", "tenant name must be 1-200 characters", h.logger)
			return
		}
		h.logger.Error("failed to create tenant", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create tenant", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, toTenantJSON(t), h.logger)
}

func (h *tenantHandler) list(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list tenants", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list tenants", h.logger)
		return
	}

	out := make([]tenantJSON, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, toTenantJSON(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": out, "total": len(out)}, h.logger)
}

func (h *tenantHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantIDFromPath(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "tenant not found", h.logger)
			return
		}
		h.logger.Error("failed to delete tenant", "error", err, "tenant", id)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete tenant", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// tenantIDFromPath parses the {tenant} path segment. Writes a 400 and
// returns false when it is not a UUID.
func tenantIDFromPath(w http.ResponseWriter, r *http.Request, logger log.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("tenant"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tenant", "tenant ID must be a UUID", logger)
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON decodes a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	return json.NewDecoder(r.Body).Decode(dst)
}
