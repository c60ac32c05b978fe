package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/colinzhu/limit-monitoring-sub000/internal/ingester"
	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
)

func (s *Server) handleIngestSettlement(w http.ResponseWriter, r *http.Request) {
	var req ingester.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "error",
			"message": "malformed request body",
		})
		return
	}

	refID, err := s.processor.Process(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status":     "success",
		"message":    "settlement processed",
		"sequenceId": refID,
	})
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	settlement, err := s.repo.FindLatestVersion(r.Context(), s.repo.DB(), vars["settlementId"], vars["pts"], vars["pe"])
	if err != nil {
		writeError(w, err)
		return
	}
	if settlement == nil {
		writeNotFound(w, "settlement not found")
		return
	}
	json.NewEncoder(w).Encode(settlementView(settlement))
}

func (s *Server) handleGetSettlementStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	settlement, err := s.repo.FindLatestVersion(r.Context(), s.repo.DB(), vars["settlementId"], vars["pts"], vars["pe"])
	if err != nil {
		writeError(w, err)
		return
	}
	if settlement == nil {
		writeNotFound(w, "settlement not found")
		return
	}

	res, err := s.deriver.StatusOf(r.Context(), settlement)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"settlement":   settlementView(res.Settlement),
		"status":       res.Status,
		"runningTotal": res.RunningTotal,
		"limit":        res.Limit,
		"workflow":     res.Workflow,
	})
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	version := int64(0)
	if v := r.URL.Query().Get("version"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"status":  "error",
				"message": "version must be a positive integer",
			})
			return
		}
		version = parsed
	}

	if version == 0 {
		settlement, err := s.repo.FindLatestVersion(r.Context(), s.repo.DB(), vars["settlementId"], vars["pts"], vars["pe"])
		if err != nil {
			writeError(w, err)
			return
		}
		if settlement == nil {
			writeNotFound(w, "settlement not found")
			return
		}
		version = settlement.SettlementVersion
	}

	activities, err := s.repo.ListActivities(r.Context(), vars["settlementId"], version)
	if err != nil {
		writeError(w, err)
		return
	}
	if activities == nil {
		activities = []models.Activity{}
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"settlementId": vars["settlementId"],
		"version":      version,
		"activities":   activities,
	})
}

func (s *Server) handleGetGroupTotal(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	valueDate, err := time.ParseInLocation(models.DateOnly, vars["valueDate"], time.UTC)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "error",
			"message": "valueDate must be an ISO date (YYYY-MM-DD)",
		})
		return
	}

	key := models.GroupKey{
		PTS:              vars["pts"],
		ProcessingEntity: vars["pe"],
		CounterpartyID:   vars["counterpartyId"],
		ValueDate:        valueDate,
	}
	gt, err := s.repo.GetGroupTotal(r.Context(), s.repo.DB(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	if gt == nil {
		writeNotFound(w, "group has no recorded subtotal")
		return
	}
	json.NewEncoder(w).Encode(groupTotalView(gt))
}

// handleListGroupSettlements returns the settlements currently contributing
// to a group's subtotal under its (pts, pe) rule. An asOf query parameter
// bounds the read to a past sequence id.
func (s *Server) handleListGroupSettlements(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	valueDate, err := time.ParseInLocation(models.DateOnly, vars["valueDate"], time.UTC)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "error",
			"message": "valueDate must be an ISO date (YYYY-MM-DD)",
		})
		return
	}

	maxRefID := int64(1) << 62
	if v := r.URL.Query().Get("asOf"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"status":  "error",
				"message": "asOf must be a positive integer",
			})
			return
		}
		maxRefID = parsed
	}

	key := models.GroupKey{
		PTS:              vars["pts"],
		ProcessingEntity: vars["pe"],
		CounterpartyID:   vars["counterpartyId"],
		ValueDate:        valueDate,
	}
	rule := s.ruleCache.Get(key.PTS, key.ProcessingEntity)
	settlements, err := s.repo.FindGroupLatestVersions(r.Context(), s.repo.DB(), key, maxRefID, rule)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]map[string]interface{}, 0, len(settlements))
	for i := range settlements {
		views = append(views, settlementView(&settlements[i]))
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"pts":              key.PTS,
		"processingEntity": key.ProcessingEntity,
		"counterpartyId":   key.CounterpartyID,
		"valueDate":        valueDate.Format(models.DateOnly),
		"settlements":      views,
	})
}

func writeNotFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"status":  "error",
		"message": msg,
	})
}

// settlementView adds the date-only value date the struct's json tags omit.
func settlementView(s *models.Settlement) map[string]interface{} {
	data, _ := json.Marshal(s)
	var view map[string]interface{}
	json.Unmarshal(data, &view)
	view["valueDate"] = s.ValueDate.Format(models.DateOnly)
	return view
}

func groupTotalView(gt *models.GroupTotal) map[string]interface{} {
	data, _ := json.Marshal(gt)
	var view map[string]interface{}
	json.Unmarshal(data, &view)
	view["valueDate"] = gt.ValueDate.Format(models.DateOnly)
	return view
}
