package api

import "github.com/gorilla/mux"

func registerBaseRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET", "OPTIONS")
}

func registerAPIRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/api/settlements", s.handleIngestSettlement).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/settlement/{pts}/{pe}/{settlementId}", s.handleGetSettlement).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/settlement/{pts}/{pe}/{settlementId}/status", s.handleGetSettlementStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/settlement/{pts}/{pe}/{settlementId}/activities", s.handleListActivities).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/settlement/{pts}/{pe}/{settlementId}/request-release", s.handleRequestRelease).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/settlement/{pts}/{pe}/{settlementId}/authorise", s.handleAuthorise).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/group/{pts}/{pe}/{counterpartyId}/{valueDate}", s.handleGetGroupTotal).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/group/{pts}/{pe}/{counterpartyId}/{valueDate}/settlements", s.handleListGroupSettlements).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/rate", s.handleListRates).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/rate/{currency}", s.handleUpsertRate).Methods("PUT", "OPTIONS")
	r.HandleFunc("/api/limit/{counterpartyId}", s.handleUpsertLimit).Methods("PUT", "OPTIONS")
}
