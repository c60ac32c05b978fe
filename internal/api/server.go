package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/colinzhu/limit-monitoring-sub000/internal/apperr"
	"github.com/colinzhu/limit-monitoring-sub000/internal/approvals"
	"github.com/colinzhu/limit-monitoring-sub000/internal/eventbus"
	"github.com/colinzhu/limit-monitoring-sub000/internal/ingester"
	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
	"github.com/colinzhu/limit-monitoring-sub000/internal/repository"
	"github.com/colinzhu/limit-monitoring-sub000/internal/rules"
	"github.com/colinzhu/limit-monitoring-sub000/internal/status"
)

// BuildCommit is set by main to the git commit hash baked in at build time.
var BuildCommit = "dev"

// Processor ingests one settlement message. Satisfied by *ingester.Ingester.
type Processor interface {
	Process(ctx context.Context, req *ingester.Request) (int64, error)
}

// Approver records approval actions. Satisfied by *approvals.Service.
type Approver interface {
	RequestRelease(ctx context.Context, settlementID, pts, pe string, version int64, actor approvals.Actor, comment string) (*models.Activity, error)
	Authorise(ctx context.Context, settlementID, pts, pe string, version int64, actor approvals.Actor, comment string) (*models.Activity, error)
}

type Server struct {
	repo       *repository.Repository
	processor  Processor
	deriver    *status.Deriver
	approver   Approver
	ruleCache  *rules.Cache
	auth       *Auth
	httpServer *http.Server
	startedAt  time.Time
}

func NewServer(repo *repository.Repository, processor Processor, deriver *status.Deriver, approver Approver, ruleCache *rules.Cache, bus *eventbus.Bus, auth *Auth, port int) *Server {
	r := mux.NewRouter()

	s := &Server{
		repo:      repo,
		processor: processor,
		deriver:   deriver,
		approver:  approver,
		ruleCache: ruleCache,
		auth:      auth,
		startedAt: time.Now(),
	}

	r.Use(commonMiddleware)
	r.Use(rateLimitMiddleware)

	registerBaseRoutes(r, s)
	registerAPIRoutes(r, s)

	streamBusEvents(bus)

	s.httpServer = &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: r,
	}

	return s
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "DOWN"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "UP"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	settlements, groups, activities, err := s.repo.Counts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":            "ok",
		"build_commit":      BuildCommit,
		"uptime_seconds":    int64(time.Since(s.startedAt).Seconds()),
		"settlement_count":  settlements,
		"group_count":       groups,
		"activity_count":    activities,
		"rule_count":        s.ruleCache.Size(),
		"rules_refreshed":   s.ruleCache.LastRefresh().UTC().Format(time.RFC3339),
		"generated_at":      time.Now().UTC().Format(time.RFC3339),
		"websocket_clients": hub.clientCount(),
	})
}

// writeError maps error kinds to HTTP responses. Validation errors carry the
// per-field messages; a timed-out database acquire surfaces as 429
// backpressure; everything unrecognized is a 500 with a generic body.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case apperr.IsKind(err, apperr.KindValidation):
		writeJSON(w, http.StatusBadRequest, errorBody(err))
	case apperr.IsKind(err, apperr.KindConflict):
		writeJSON(w, http.StatusConflict, errorBody(err))
	case apperr.IsKind(err, apperr.KindPrecondition):
		writeJSON(w, http.StatusBadRequest, errorBody(err))
	case apperr.IsKind(err, apperr.KindUpstream):
		writeJSON(w, http.StatusInternalServerError, errorBody(err))
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"status":  "error",
			"message": "server busy, retry later",
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "internal error",
		})
	}
}

func errorBody(err error) map[string]interface{} {
	body := map[string]interface{}{
		"status":  "error",
		"message": err.Error(),
	}
	if fields := apperr.FieldsOf(err); len(fields) > 0 {
		body["errors"] = fields
	}
	return body
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
