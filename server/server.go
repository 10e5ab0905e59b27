package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tradingfloor/errs"
	"tradingfloor/session"
)

type server struct {
	registry   *session.Registry
	upgrader   websocket.Upgrader
	authToken  string
	corsOrigin string
	logger     *zap.Logger
}

func newServer(registry *session.Registry, authToken, corsOrigin string, logger *zap.Logger) *server {
	return &server{
		registry:   registry,
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		authToken:  authToken,
		corsOrigin: corsOrigin,
		logger:     logger,
	}
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.withCORS, s.withAuth)
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)

	sr := r.PathPrefix("/sessions/{id}").Subrouter()
	sr.HandleFunc("", s.handleGetSession).Methods(http.MethodGet)
	sr.HandleFunc("/start", s.handleLifecycle((*session.Session).Start)).Methods(http.MethodPost)
	sr.HandleFunc("/pause", s.handleLifecycle((*session.Session).Pause)).Methods(http.MethodPost)
	sr.HandleFunc("/resume", s.handleLifecycle((*session.Session).Resume)).Methods(http.MethodPost)
	sr.HandleFunc("/end", s.handleEndSession).Methods(http.MethodPost)
	sr.HandleFunc("/events", s.handleEventLog).Methods(http.MethodGet)

	sr.HandleFunc("/participants", s.handleJoin).Methods(http.MethodPost)
	sr.HandleFunc("/participants/{user}", s.handleLeave).Methods(http.MethodDelete)
	sr.HandleFunc("/participants/{user}/privileges/{code}", s.handleHasPrivilege).Methods(http.MethodGet)
	sr.HandleFunc("/privileges/{action:grant|revoke}", s.handlePrivilege).Methods(http.MethodPost)

	sr.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	sr.HandleFunc("/orders/{order}", s.handleGetOrder).Methods(http.MethodGet)
	sr.HandleFunc("/orders/{order}", s.handleAmendOrder).Methods(http.MethodPatch)
	sr.HandleFunc("/orders/{order}", s.handleCancelOrder).Methods(http.MethodDelete)
	sr.HandleFunc("/books/{symbol}", s.handleBook).Methods(http.MethodGet)

	sr.HandleFunc("/auctions", s.handleCreateAuction).Methods(http.MethodPost)
	sr.HandleFunc("/auctions/{auction}", s.handleGetAuction).Methods(http.MethodGet)
	sr.HandleFunc("/auctions/{auction}", s.handleCancelAuction).Methods(http.MethodDelete)
	sr.HandleFunc("/auctions/{auction}/bids", s.handleBid).Methods(http.MethodPost)

	sr.HandleFunc("/commands/{command}/trigger", s.handleTriggerCommand).Methods(http.MethodPost)

	r.HandleFunc("/ws/sessions/{id}/events", s.handleEventStream).Methods(http.MethodGet)
	r.HandleFunc("/ws/sessions/{id}/books", s.handleBookStream).Methods(http.MethodGet)
	return r
}

func (s *server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("missing or invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// session resolves {id}, writing a 404 when it is not live.
func (s *server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return sess, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: string(errs.InvalidRequest), Error: fmt.Sprintf("invalid payload: %v", err)})
		return false
	}
	return true
}

func intVar(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil {
		return 0, errs.New(errs.InvalidRequest, "%s must be an integer", name)
	}
	return v, nil
}

type errorResponse struct {
	Code  string `json:"code"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error"`
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	resp := errorResponse{Code: string(errs.CodeOf(err)), Error: err.Error()}
	if resp.Code != "" {
		resp.Kind = errs.Code(resp.Code).Kind().String()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
