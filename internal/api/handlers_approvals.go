package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/colinzhu/limit-monitoring-sub000/internal/approvals"
	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
)

type approvalRequest struct {
	SettlementVersion int64  `json:"settlementVersion"`
	UserID            string `json:"userId"`
	UserName          string `json:"userName"`
	Comment           string `json:"comment"`
}

func (s *Server) handleRequestRelease(w http.ResponseWriter, r *http.Request) {
	s.handleApproval(w, r, models.ActionRequestRelease)
}

func (s *Server) handleAuthorise(w http.ResponseWriter, r *http.Request) {
	s.handleApproval(w, r, models.ActionAuthorise)
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request, action models.ActivityAction) {
	vars := mux.Vars(r)

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "error",
			"message": "malformed request body",
		})
		return
	}

	actor, err := s.auth.ActorFrom(r, approvals.Actor{UserID: req.UserID, UserName: req.UserName})
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	var activity *models.Activity
	switch action {
	case models.ActionRequestRelease:
		activity, err = s.approver.RequestRelease(r.Context(), vars["settlementId"], vars["pts"], vars["pe"], req.SettlementVersion, actor, req.Comment)
	case models.ActionAuthorise:
		activity, err = s.approver.Authorise(r.Context(), vars["settlementId"], vars["pts"], vars["pe"], req.SettlementVersion, actor, req.Comment)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status":   "success",
		"message":  string(action) + " recorded",
		"activity": activity,
	})
}
