package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/voiceguide/internal/observe"
	"github.com/MrWong99/voiceguide/internal/resilience"
	"github.com/MrWong99/voiceguide/internal/site"
	"github.com/MrWong99/voiceguide/internal/voice"
)

// maxBodyBytes caps request bodies of the control API.
const maxBodyBytes = 4 << 10

// pageBody is the request and response body of /api/page.
type pageBody struct {
	Page site.Page `json:"page"`
}

// errorBody is the JSON error response.
type errorBody struct {
	Error string `json:"error"`
}

// handleStart opens a voice session. The request context only bounds setup;
// the session outlives the request.
func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	err := a.assistant.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, a.assistant.Status())
	case errors.Is(err, voice.ErrSessionActive):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, resilience.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		observe.WithTrace(r.Context(), a.logger).Warn("voice start failed", "err", err)
		writeError(w, http.StatusBadGateway, err)
	}
}

func (a *App) handleStop(w http.ResponseWriter, _ *http.Request) {
	a.assistant.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.assistant.Status())
}

func (a *App) handleGetPage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, pageBody{Page: a.location.Current()})
}

// handlePutPage applies a page change made on the host side, e.g. a click.
func (a *App) handlePutPage(w http.ResponseWriter, r *http.Request) {
	var body pageBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !body.Page.Valid() {
		writeError(w, http.StatusBadRequest, site.ErrUnknownPage)
		return
	}
	a.location.Navigate(body.Page)
	writeJSON(w, http.StatusOK, pageBody{Page: a.location.Current()})
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}
