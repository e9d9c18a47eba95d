package handler

import (
	"net/http"

	"github.com/eyesee/license-server-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// writeSuccess writes a {"success": true, ...payload} envelope.
func writeSuccess(w http.ResponseWriter, payload map[string]any) {
	writeEnvelope(w, httputil.FieldSuccess, true, payload)
}

// writeValid writes a {"valid": <valid>, ...payload} envelope.
func writeValid(w http.ResponseWriter, valid bool, payload map[string]any) {
	writeEnvelope(w, httputil.FieldValid, valid, payload)
}

func writeEnvelope(w http.ResponseWriter, field string, ok bool, payload map[string]any) {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body[field] = ok
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func writeValidityError(w http.ResponseWriter, err error) {
	httputil.WriteValidityError(w, err)
}
