package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eyesee/license-server-go/internal/audit"
	"github.com/eyesee/license-server-go/internal/service"
)

type generateKeysRequest struct {
	ProductCode string `json:"productCode" validate:"required,max=16"`
	Count       int    `json:"count"`
}

type revokeRequest struct {
	HardwareID  string `json:"hardwareId" validate:"required,max=256"`
	Reason      string `json:"reason" validate:"max=500"`
	ProductCode string `json:"productCode" validate:"omitempty,len=4,alphanum"`
}

type reactivateRequest struct {
	HardwareID  string `json:"hardwareId" validate:"required,max=256"`
	ProductCode string `json:"productCode" validate:"omitempty,len=4,alphanum"`
}

// AdminHandler serves /api/admin. Authentication is applied by the router.
type AdminHandler struct {
	adminService *service.AdminService
}

func NewAdminHandler(adminService *service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Keys
	r.Post("/generate-keys", h.GenerateKeys)
	r.Get("/generated-keys", h.ListKeys)
	r.Delete("/generated-keys/{key}", h.DeleteKey)

	// Licenses
	r.Get("/licenses", h.ListLicenses)
	r.Get("/licenses/{hardwareId}", h.GetLicense)
	r.Delete("/licenses/{hardwareId}", h.DeleteLicense)
	r.Post("/revoke", h.Revoke)
	r.Post("/reactivate", h.Reactivate)

	r.Get("/stats", h.Stats)
	r.Get("/products", h.Products)
	r.Post("/reconcile", h.Reconcile)

	return r
}

// POST /api/admin/generate-keys
func (h *AdminHandler) GenerateKeys(w http.ResponseWriter, r *http.Request) {
	var req generateKeysRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	keys, err := h.adminService.GenerateKeys(r.Context(), req.ProductCode, req.Count)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:        audit.EventKeysGenerate,
		ProductCode: keys[0].ProductCode,
		Details:     map[string]interface{}{"count": len(keys)},
	})

	writeSuccess(w, map[string]any{
		"count": len(keys),
		"keys":  keys,
	})
}

// GET /api/admin/generated-keys?status=all|used|unused
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, stats, err := h.adminService.ListKeys(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]any{
		"count": len(keys),
		"stats": stats,
		"keys":  keys,
	})
}

// DELETE /api/admin/generated-keys/{key}
func (h *AdminHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.adminService.DeleteKey(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:       audit.EventKeyDelete,
		LicenseKey: key,
	})

	writeSuccess(w, map[string]any{"message": "Key deleted"})
}

// GET /api/admin/licenses
func (h *AdminHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	licenses, stats, err := h.adminService.ListLicenses(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]any{
		"count":    len(licenses),
		"stats":    stats,
		"licenses": licenses,
	})
}

// GET /api/admin/licenses/{hardwareId}?productCode=
func (h *AdminHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	lic, err := h.adminService.GetLicense(r.Context(), chi.URLParam(r, "hardwareId"), r.URL.Query().Get("productCode"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"license": lic})
}

// POST /api/admin/revoke
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	lic, err := h.adminService.Revoke(r.Context(), req.HardwareID, req.Reason, req.ProductCode)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:        audit.EventLicenseRevoke,
		LicenseKey:  lic.LicenseKey,
		HardwareID:  lic.HardwareID,
		ProductCode: lic.ProductCode,
		Details:     map[string]interface{}{"reason": lic.Reason()},
	})

	writeSuccess(w, map[string]any{
		"message": "License revoked",
		"license": map[string]any{
			"hardwareId":    lic.HardwareID,
			"productCode":   lic.ProductCode,
			"isRevoked":     lic.IsRevoked,
			"revokedAt":     lic.RevokedAt,
			"revokedReason": lic.Reason(),
		},
	})
}

// POST /api/admin/reactivate
func (h *AdminHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	var req reactivateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	lic, err := h.adminService.Reactivate(r.Context(), req.HardwareID, req.ProductCode)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:        audit.EventLicenseReactivate,
		LicenseKey:  lic.LicenseKey,
		HardwareID:  lic.HardwareID,
		ProductCode: lic.ProductCode,
	})

	writeSuccess(w, map[string]any{
		"message": "License reactivated",
		"license": map[string]any{
			"hardwareId":  lic.HardwareID,
			"productCode": lic.ProductCode,
			"isRevoked":   lic.IsRevoked,
		},
	})
}

// DELETE /api/admin/licenses/{hardwareId}?productCode=
func (h *AdminHandler) DeleteLicense(w http.ResponseWriter, r *http.Request) {
	lic, err := h.adminService.DeleteLicense(r.Context(), chi.URLParam(r, "hardwareId"), r.URL.Query().Get("productCode"))
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:        audit.EventLicenseDelete,
		LicenseKey:  lic.LicenseKey,
		HardwareID:  lic.HardwareID,
		ProductCode: lic.ProductCode,
	})

	writeSuccess(w, map[string]any{
		"message":    "License deleted permanently, key can be reused",
		"licenseKey": lic.LicenseKey,
	})
}

// GET /api/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.adminService.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"stats": stats})
}

// GET /api/admin/products
func (h *AdminHandler) Products(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]any{"products": h.adminService.Products()})
}

// POST /api/admin/reconcile
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.adminService.Reconcile(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventReconcile,
		Details: map[string]interface{}{"repairs": report.Repairs()},
	})

	writeSuccess(w, map[string]any{
		"repairs": report.Repairs(),
		"report":  report,
	})
}
