package api

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

func (s *Server) handleListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := s.repo.ListRates(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if rates == nil {
		rates = []models.ExchangeRate{}
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"rates": rates})
}

func (s *Server) handleUpsertRate(w http.ResponseWriter, r *http.Request) {
	currency := mux.Vars(r)["currency"]
	if !currencyPattern.MatchString(currency) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "error",
			"message": "currency must be a 3-letter ISO 4217 code",
		})
		return
	}

	var body struct {
		RateToUSD decimal.Decimal `json:"rateToUsd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "error",
			"message": "malformed request body",
		})
		return
	}
	if !body.RateToUSD.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "error",
			"message": "rateToUsd must be positive",
		})
		return
	}

	if err := s.repo.UpsertRate(r.Context(), currency, body.RateToUSD); err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "success",
		"currency": currency,
	})
}

func (s *Server) handleUpsertLimit(w http.ResponseWriter, r *http.Request) {
	counterpartyID := mux.Vars(r)["counterpartyId"]

	var body struct {
		ExposureLimit decimal.Decimal `json:"exposureLimit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "error",
			"message": "malformed request body",
		})
		return
	}
	if !body.ExposureLimit.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "error",
			"message": "exposureLimit must be positive",
		})
		return
	}

	if err := s.repo.UpsertCounterpartyLimit(r.Context(), counterpartyID, body.ExposureLimit); err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "success",
		"counterpartyId": counterpartyID,
	})
}
