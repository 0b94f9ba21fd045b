package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gharti/bike-market/internal/models"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps the error taxonomy onto HTTP. State conflicts
// carry their typed payload so clients can explain the refusal; anything
// unrecognized is logged with context and surfaced as a generic 500.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *models.ValidationError
	if errors.As(err, &validation) {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  validation.Error(),
			"detail": validation,
		})
		return
	}

	var forbidden *models.ForbiddenError
	if errors.As(err, &forbidden) {
		respondError(w, http.StatusForbidden, forbidden.Error())
		return
	}

	if models.IsNotFound(err) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	if models.IsStateConflict(err) {
		body := map[string]interface{}{"error": err.Error()}

		var duplicate *models.DuplicatePendingOfferError
		if errors.As(err, &duplicate) {
			body["existing_offer"] = duplicate
		}
		var unavailable *models.BicycleUnavailableError
		if errors.As(err, &unavailable) {
			body["bicycle"] = unavailable
		}

		respondJSON(w, http.StatusConflict, body)
		return
	}

	log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	respondError(w, http.StatusInternalServerError, "internal error")
}
