package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyesee/license-server-go/internal/license"
	"github.com/eyesee/license-server-go/internal/repository"
	"github.com/eyesee/license-server-go/internal/service"
)

const testHardwareID = "HW-ABCDEF-123456"

func newTestRouter(t *testing.T, enableTest bool) http.Handler {
	t.Helper()
	store, err := repository.OpenBolt(filepath.Join(t.TempDir(), "licenses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg, err := license.NewRegistry(
		license.Product{Code: "BM01", Name: "BMS", Secret: "bms-license-secret-key-2024-v2"},
		license.Product{Code: "ES01", Name: "EyeSee", Secret: "eyesee-license-secret-key-2024-v2"},
	)
	require.NoError(t, err)
	codec := license.NewCodec(reg)

	licenseService := service.NewLicenseService(store, codec, 24*time.Hour)
	adminService := service.NewAdminService(store, codec)

	r := chi.NewRouter()
	r.Mount("/api/license", NewLicenseHandler(licenseService, adminService, enableTest).Routes())
	r.Mount("/api/admin", NewAdminHandler(adminService).Routes())
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func generateKey(t *testing.T, h http.Handler, productCode string) string {
	t.Helper()
	code, body := doJSON(t, h, "POST", "/api/admin/generate-keys", map[string]any{"productCode": productCode, "count": 1})
	require.Equal(t, http.StatusOK, code, body)
	keys := body["keys"].([]any)
	require.Len(t, keys, 1)
	return keys[0].(map[string]any)["key"].(string)
}

func TestStatus(t *testing.T) {
	h := newTestRouter(t, false)

	code, body := doJSON(t, h, "GET", "/api/license/status", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, float64(24), body["offlineToleranceHours"])
	assert.Equal(t, []any{"BM01", "ES01"}, body["products"])
}

func TestCheck(t *testing.T) {
	h := newTestRouter(t, false)

	t.Run("missing key", func(t *testing.T) {
		code, body := doJSON(t, h, "POST", "/api/license/check", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, false, body["valid"])
		assert.Equal(t, "MISSING_REQUIRED", body["code"])
	})

	t.Run("malformed body", func(t *testing.T) {
		code, body := doJSON(t, h, "POST", "/api/license/check", "{not json")
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "VALIDATION_ERROR", body["code"])
	})

	t.Run("bad format", func(t *testing.T) {
		code, body := doJSON(t, h, "POST", "/api/license/check", map[string]any{"licenseKey": "ABC"})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "INVALID_FORMAT", body["code"])
	})

	t.Run("valid checksum but never issued", func(t *testing.T) {
		code, body := doJSON(t, h, "POST", "/api/license/check", map[string]any{"licenseKey": "XYBM-01QZ-K7P2-BFD0"})
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "NOT_FOUND", body["code"])
	})

	t.Run("available key", func(t *testing.T) {
		key := generateKey(t, h, "BM01")
		code, body := doJSON(t, h, "POST", "/api/license/check", map[string]any{"licenseKey": key})
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, "AVAILABLE", body["status"])
		assert.Equal(t, "BM01", body["productCode"])
		assert.Equal(t, "BMS", body["productName"])
	})
}

func TestLicenseLifecycle(t *testing.T) {
	h := newTestRouter(t, false)
	key := generateKey(t, h, "BM01")

	code, body := doJSON(t, h, "POST", "/api/license/activate", map[string]any{
		"licenseKey": key, "hardwareId": testHardwareID, "deviceName": "Front desk",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["alreadyActive"])
	lic := body["license"].(map[string]any)
	assert.Equal(t, testHardwareID, lic["hardwareId"])
	assert.Equal(t, "Front desk", lic["deviceName"])

	code, body = doJSON(t, h, "POST", "/api/license/activate", map[string]any{
		"licenseKey": key, "hardwareId": testHardwareID,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["alreadyActive"])

	code, body = doJSON(t, h, "POST", "/api/license/check", map[string]any{"licenseKey": key})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ALREADY_ACTIVATED", body["status"])
	assert.Equal(t, "HW-ABCDE...", body["activatedBy"])

	code, body = doJSON(t, h, "GET", "/api/license/validate/"+testHardwareID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["valid"])
	assert.NotEmpty(t, body["trustedUntil"])

	code, body = doJSON(t, h, "POST", "/api/admin/revoke", map[string]any{"hardwareId": testHardwareID, "reason": "chargeback"})
	require.Equal(t, http.StatusOK, code, body)

	code, body = doJSON(t, h, "GET", "/api/license/validate/"+testHardwareID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, true, body["revoked"])
	assert.Equal(t, "chargeback", body["reason"])

	code, body = doJSON(t, h, "POST", "/api/admin/revoke", map[string]any{"hardwareId": testHardwareID})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ALREADY_REVOKED", body["code"])

	code, _ = doJSON(t, h, "POST", "/api/admin/reactivate", map[string]any{"hardwareId": testHardwareID})
	require.Equal(t, http.StatusOK, code)

	code, body = doJSON(t, h, "GET", "/api/license/validate/"+testHardwareID+"?productCode=BM01", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["valid"])

	code, body = doJSON(t, h, "DELETE", "/api/admin/licenses/"+testHardwareID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, key, body["licenseKey"])

	code, body = doJSON(t, h, "POST", "/api/license/check", map[string]any{"licenseKey": key})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "AVAILABLE", body["status"])

	code, body = doJSON(t, h, "GET", "/api/license/validate/"+testHardwareID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, false, body["activated"])
}

func TestActivateErrors(t *testing.T) {
	h := newTestRouter(t, false)
	key := generateKey(t, h, "BM01")

	code, body := doJSON(t, h, "POST", "/api/license/activate", map[string]any{"licenseKey": key})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "MISSING_REQUIRED", body["code"])

	code, body = doJSON(t, h, "POST", "/api/license/activate", map[string]any{"licenseKey": key, "hardwareId": "short"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_INPUT", body["code"])

	code, _ = doJSON(t, h, "POST", "/api/license/activate", map[string]any{"licenseKey": key, "hardwareId": testHardwareID})
	require.Equal(t, http.StatusOK, code)

	code, body = doJSON(t, h, "POST", "/api/license/activate", map[string]any{"licenseKey": key, "hardwareId": "OTHER-DEVICE-0001"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ALREADY_USED", body["code"])

	second := generateKey(t, h, "BM01")
	code, body = doJSON(t, h, "POST", "/api/license/activate", map[string]any{"licenseKey": second, "hardwareId": testHardwareID})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ALREADY_ACTIVATED", body["code"])
}

func TestCheckKey(t *testing.T) {
	h := newTestRouter(t, false)
	key := generateKey(t, h, "ES01")

	code, body := doJSON(t, h, "POST", "/api/license/check-key", map[string]any{"licenseKey": key})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "EyeSee", body["productName"])
	assert.Equal(t, false, body["isUsed"])

	code, body = doJSON(t, h, "POST", "/api/license/check-key", map[string]any{"licenseKey": "XYZZ-99QZ-K7P2-BFD0"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "UNKNOWN_PRODUCT", body["code"])
}

func TestTestEndpoints(t *testing.T) {
	t.Run("not routed when disabled", func(t *testing.T) {
		h := newTestRouter(t, false)
		code, _ := doJSON(t, h, "POST", "/api/license/test/mark-used", map[string]any{"licenseKey": "x"})
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("mark used then reset", func(t *testing.T) {
		h := newTestRouter(t, true)
		key := generateKey(t, h, "BM01")

		code, body := doJSON(t, h, "POST", "/api/license/test/mark-used", map[string]any{"licenseKey": key})
		require.Equal(t, http.StatusOK, code, body)
		data := body["data"].(map[string]any)
		assert.Contains(t, data["testHardwareId"], "TEST-")

		code, body = doJSON(t, h, "POST", "/api/license/check", map[string]any{"licenseKey": key})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ALREADY_ACTIVATED", body["status"])

		code, body = doJSON(t, h, "POST", "/api/license/test/reset-key", map[string]any{"licenseKey": key})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "USED", body["data"].(map[string]any)["previousStatus"])

		code, body = doJSON(t, h, "POST", "/api/license/check", map[string]any{"licenseKey": key})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "AVAILABLE", body["status"])
	})
}

func TestAdminKeys(t *testing.T) {
	h := newTestRouter(t, false)

	t.Run("unknown product lists valid codes", func(t *testing.T) {
		code, body := doJSON(t, h, "POST", "/api/admin/generate-keys", map[string]any{"productCode": "ZZ99"})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "UNKNOWN_PRODUCT", body["code"])
		details := body["details"].(map[string]any)
		assert.Equal(t, []any{"BM01", "ES01"}, details["validCodes"])
	})

	t.Run("count is clamped", func(t *testing.T) {
		code, body := doJSON(t, h, "POST", "/api/admin/generate-keys", map[string]any{"productCode": "es01", "count": 500})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, float64(100), body["count"])
	})

	t.Run("list with filter", func(t *testing.T) {
		code, body := doJSON(t, h, "GET", "/api/admin/generated-keys?status=unused", nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, float64(100), body["count"])

		code, body = doJSON(t, h, "GET", "/api/admin/generated-keys?status=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "INVALID_INPUT", body["code"])
	})

	t.Run("delete unused and in-use keys", func(t *testing.T) {
		unused := generateKey(t, h, "BM01")
		code, _ := doJSON(t, h, "DELETE", "/api/admin/generated-keys/"+unused, nil)
		assert.Equal(t, http.StatusOK, code)

		code, body := doJSON(t, h, "DELETE", "/api/admin/generated-keys/"+unused, nil)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "NOT_FOUND", body["code"])

		used := generateKey(t, h, "BM01")
		code, _ = doJSON(t, h, "POST", "/api/license/activate", map[string]any{"licenseKey": used, "hardwareId": testHardwareID})
		require.Equal(t, http.StatusOK, code)

		code, body = doJSON(t, h, "DELETE", "/api/admin/generated-keys/"+used, nil)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "KEY_IN_USE", body["code"])
	})
}

func TestAdminLicenses(t *testing.T) {
	h := newTestRouter(t, false)
	key := generateKey(t, h, "BM01")
	code, _ := doJSON(t, h, "POST", "/api/license/activate", map[string]any{"licenseKey": key, "hardwareId": testHardwareID})
	require.Equal(t, http.StatusOK, code)

	code, body := doJSON(t, h, "GET", "/api/admin/licenses", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	code, body = doJSON(t, h, "GET", "/api/admin/licenses/"+testHardwareID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, key, body["license"].(map[string]any)["licenseKey"])

	code, body = doJSON(t, h, "GET", "/api/admin/licenses/UNKNOWN-DEVICE", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", body["code"])

	code, body = doJSON(t, h, "POST", "/api/admin/reactivate", map[string]any{"hardwareId": testHardwareID})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "NOT_REVOKED", body["code"])

	code, body = doJSON(t, h, "POST", "/api/admin/revoke", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "MISSING_REQUIRED", body["code"])

	code, body = doJSON(t, h, "POST", "/api/admin/revoke", map[string]any{"hardwareId": testHardwareID, "productCode": "B"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_INPUT", body["code"])

	code, body = doJSON(t, h, "GET", "/api/admin/stats", nil)
	require.Equal(t, http.StatusOK, code)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["generatedKeys"].(map[string]any)["used"])
	assert.Equal(t, float64(1), stats["activatedLicenses"].(map[string]any)["active"])

	code, body = doJSON(t, h, "GET", "/api/admin/products", nil)
	require.Equal(t, http.StatusOK, code)
	products := body["products"].([]any)
	require.Len(t, products, 2)
	assert.Equal(t, "BM01", products[0].(map[string]any)["code"])
	_, hasSecret := products[0].(map[string]any)["Secret"]
	assert.False(t, hasSecret)

	code, body = doJSON(t, h, "POST", "/api/admin/reconcile", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["repairs"])
}
