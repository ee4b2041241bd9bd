package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nvandessel/fluidrig/internal/rig"
	"github.com/nvandessel/fluidrig/internal/rigerr"
)

// errorBody is the JSON body of a failed request.
type errorBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rigerr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, rigerr.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, rigerr.ErrFitFailure):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error(), Kind: rigerr.Kind(err)})
}

// writeResult writes a command outcome. Failed commands carry the rig's
// message with the status of their error.
func writeResult(w http.ResponseWriter, res rig.Result, err error) {
	if err != nil {
		writeJSON(w, statusFor(err), errorBody{Error: res.Message, Kind: rigerr.Kind(err)})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// idParam parses a positive integer path parameter.
func idParam(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, rigerr.Validation("invalid %s %q", name, raw)
	}
	return id, nil
}
