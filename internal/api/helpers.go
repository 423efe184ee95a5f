package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rflorenc/jenkins-workbench/internal/jenkins"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeJenkinsError maps a client error onto a response status: missing
// items stay 404, masters still provisioning are 503 and any other Jenkins
// failure is a bad gateway.
func writeJenkinsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jenkins.ErrEndpointNotReady):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case jenkins.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// decodeJSON decodes the request body into v and validates its struct tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
