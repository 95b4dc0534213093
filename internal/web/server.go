// Package web exposes the ledger as a small JSON API for the ward forms
// and the operator panel.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hcpa/caixas/internal/ledger"
	"github.com/hcpa/caixas/internal/models"
	"github.com/hcpa/caixas/internal/render"
)

type Server struct {
	ledger *ledger.Ledger
	logger *zap.Logger
	now    func() time.Time
}

func NewServer(l *ledger.Ledger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ledger: l,
		logger: logger.With(zap.String("component", "web")),
		now:    time.Now,
	}
}

// Routes builds the router. Kept separate from ListenAndServe for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/form", s.handleForm)
		r.Post("/notifications", s.handleNotify)
		r.Get("/pending", s.handlePending)
		r.Post("/collections", s.handleCollect)
		r.Get("/history", s.handleHistory)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

type formResponse struct {
	Sector  string         `json:"setor"`
	Volumes []volumeOption `json:"volumes"`
}

type volumeOption struct {
	Value models.Volume `json:"value"`
	Label string        `json:"label"`
}

// handleForm serves the deep-link prefill: /api/form?setor=uti
func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	resp := formResponse{Sector: models.NormalizeSector(r.URL.Query().Get("setor"))}
	for _, v := range models.Volumes() {
		resp.Volumes = append(resp.Volumes, volumeOption{Value: v, Label: v.Label()})
	}
	writeJSON(w, http.StatusOK, resp)
}

type notifyRequest struct {
	Sector string `json:"setor"`
	Volume string `json:"volume"`
}

type notifyResponse struct {
	Request models.PendingRequest `json:"chamado"`
	Message string                `json:"message"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var body notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	volume, err := models.ParseVolume(body.Volume)
	if err != nil {
		s.writeLedgerError(w, r, &ledger.ValidationError{Field: "volume", Reason: err.Error()}, ledger.CollectionResult{})
		return
	}

	req, err := s.ledger.ReportAccumulation(r.Context(), models.NormalizeSector(body.Sector), volume, s.now())
	if err != nil {
		s.writeLedgerError(w, r, err, ledger.CollectionResult{})
		return
	}

	writeJSON(w, http.StatusCreated, notifyResponse{Request: req, Message: render.Notified(req)})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.ledger.ListPending(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, err, ledger.CollectionResult{})
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

type collectRequest struct {
	Badge       string `json:"cracha"`
	Sector      string `json:"setor"`
	Quantity    int    `json:"quantidade"`
	SiteCleared *bool  `json:"local_limpo"`
}

type collectResponse struct {
	Outcome models.Outcome          `json:"outcome"`
	Record  models.CollectionRecord `json:"coleta"`
	Message string                  `json:"message"`
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var body collectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	record := models.CollectionRecord{
		Badge:    body.Badge,
		Sector:   models.NormalizeSector(body.Sector),
		Quantity: body.Quantity,
	}
	result, err := s.ledger.RecordCollection(r.Context(), record, body.SiteCleared)
	if err != nil {
		s.writeLedgerError(w, r, err, result)
		return
	}

	writeJSON(w, http.StatusCreated, collectResponse{
		Outcome: result.Outcome,
		Record:  result.Record,
		Message: render.Collection(result),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.ledger.ListHistory(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, err, ledger.CollectionResult{})
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type errorResponse struct {
	Error         string `json:"error"`
	Field         string `json:"field,omitempty"`
	HistoryLogged bool   `json:"historico_registrado,omitempty"`
}

func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error, result ledger.CollectionResult) {
	resp := errorResponse{Error: render.Error(err, result), HistoryLogged: result.HistoryLogged}

	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		resp.Field = verr.Field
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, ledger.ErrConnection):
		s.logger.Error("store failure",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		s.logger.Error("unexpected error",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
