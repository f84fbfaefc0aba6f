package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/stanstork/aggregator-router/internal/aggregator"
	"github.com/stanstork/aggregator-router/internal/connect"
	"github.com/stanstork/aggregator-router/internal/repository"
	"github.com/stanstork/aggregator-router/internal/resilience"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return err
	}
	return validate.Struct(dest)
}

// writeError maps domain errors onto status codes. Anything unrecognised is a
// 502 since it came back from an aggregator or the store.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, connect.ErrNoRoute):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrInstitutionNotFound), errors.Is(err, resilience.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, aggregator.ErrUnknownAggregator):
		status = http.StatusBadRequest
	default:
		logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
