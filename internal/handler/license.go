package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eyesee/license-server-go/internal/audit"
	"github.com/eyesee/license-server-go/internal/service"
)

type keyRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required,max=64"`
}

type activateRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required,max=64"`
	HardwareID string `json:"hardwareId" validate:"required,max=256"`
	DeviceName string `json:"deviceName" validate:"max=128"`
}

// LicenseHandler serves the device-facing API under /api/license.
type LicenseHandler struct {
	licenseService *service.LicenseService
	adminService   *service.AdminService
	enableTest     bool
}

func NewLicenseHandler(
	licenseService *service.LicenseService,
	adminService *service.AdminService,
	enableTest bool,
) *LicenseHandler {
	return &LicenseHandler{
		licenseService: licenseService,
		adminService:   adminService,
		enableTest:     enableTest,
	}
}

func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.Status)
	r.Post("/check", h.Check)
	r.Post("/activate", h.Activate)
	r.Get("/validate/{hardwareId}", h.Validate)
	r.Post("/check-key", h.CheckKey)

	// Test helpers mutate key state without a device.
	if h.enableTest {
		r.Post("/test/reset-key", h.ResetKey)
		r.Post("/test/mark-used", h.MarkUsed)
	}

	return r
}

// GET /api/license/status
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.licenseService.Status()
	writeSuccess(w, map[string]any{
		"status":                "online",
		"serverTime":            status.ServerTime,
		"offlineToleranceHours": status.OfflineToleranceHours,
		"products":              status.Products,
	})
}

// POST /api/license/check
func (h *LicenseHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidityError(w, err)
		return
	}

	check, err := h.licenseService.Check(r.Context(), req.LicenseKey)
	if err != nil {
		writeValidityError(w, err)
		return
	}

	payload := map[string]any{
		"status":      check.Status,
		"licenseKey":  check.LicenseKey,
		"productCode": check.ProductCode,
		"productName": check.ProductName,
		"message":     "License key is valid and can be activated",
	}
	if check.Status == service.CheckAlreadyActivated {
		payload["activatedBy"] = check.ActivatedBy
		payload["usedAt"] = check.UsedAt
		payload["message"] = "License key has already been activated"
	}
	writeValid(w, true, payload)
}

// POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	activation, err := h.licenseService.Activate(r.Context(), service.ActivateParams{
		LicenseKey: req.LicenseKey,
		HardwareID: req.HardwareID,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	lic := activation.License
	message := "License already active on this device"
	if activation.Created {
		message = "License activated"
		audit.LogFromRequest(r, audit.Event{
			Type:        audit.EventLicenseActivate,
			LicenseKey:  lic.LicenseKey,
			HardwareID:  lic.HardwareID,
			ProductCode: lic.ProductCode,
		})
	}

	writeSuccess(w, map[string]any{
		"message":       message,
		"alreadyActive": !activation.Created,
		"license": map[string]any{
			"licenseKey":  lic.LicenseKey,
			"hardwareId":  lic.HardwareID,
			"deviceName":  lic.DeviceName,
			"productCode": lic.ProductCode,
			"productName": activation.ProductName,
			"activatedAt": lic.ActivatedAt,
		},
	})
}

// GET /api/license/validate/{hardwareId}?productCode=
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	validation, err := h.licenseService.Validate(
		r.Context(),
		chi.URLParam(r, "hardwareId"),
		r.URL.Query().Get("productCode"),
	)
	if err != nil {
		writeValidityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, validation)
}

// POST /api/license/check-key
func (h *LicenseHandler) CheckKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidityError(w, err)
		return
	}

	info, err := h.licenseService.CheckKey(r.Context(), req.LicenseKey)
	if err != nil {
		writeValidityError(w, err)
		return
	}

	writeValid(w, true, map[string]any{
		"licenseKey":  info.LicenseKey,
		"productCode": info.ProductCode,
		"productName": info.ProductName,
		"isUsed":      info.IsUsed,
		"activatedBy": info.ActivatedBy,
	})
}

// POST /api/license/test/reset-key
func (h *LicenseHandler) ResetKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	reset, err := h.adminService.ResetKey(r.Context(), req.LicenseKey)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:       audit.EventKeyReset,
		LicenseKey: reset.LicenseKey,
		Details:    map[string]interface{}{"previousStatus": reset.PreviousStatus},
	})

	writeSuccess(w, map[string]any{
		"message": "License key reset to unused state",
		"data":    reset,
	})
}

// POST /api/license/test/mark-used
func (h *LicenseHandler) MarkUsed(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	activation, err := h.adminService.MarkUsedForTest(r.Context(), req.LicenseKey)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]any{
		"message": "License key marked as used (test mode)",
		"data":    activation,
	})
}
