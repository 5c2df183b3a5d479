package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"appointly/internal/config"
	"appointly/internal/models"
	"appointly/internal/service"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// BookingAPI is the booking service surface exposed over HTTP.
type BookingAPI interface {
	AvailabilityLookup
	ListServices(ctx context.Context) ([]models.Service, error)
	CreateBooking(ctx context.Context, in service.CreateBookingInput) (*models.Booking, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error)
	Confirm(ctx context.Context, id string) (*models.Booking, error)
	MarkReminded(ctx context.Context, id string) (*models.Booking, error)
	Start(ctx context.Context, id string) (*models.Booking, error)
	Complete(ctx context.Context, id string, actualMinutes *int) (*models.Booking, error)
	MarkNoShow(ctx context.Context, id string) (*models.Booking, error)
	Cancel(ctx context.Context, id, reason string, actor *int64) (*models.Booking, error)
	Reschedule(ctx context.Context, id string, newStart time.Time) (*models.Booking, *models.Booking, error)
	DeleteBooking(ctx context.Context, id string) error
}

type PaymentAPI interface {
	StartPayment(ctx context.Context, bookingID string) (models.PaymentIntent, error)
	ConfirmPayment(ctx context.Context, paymentRef string) (*models.Booking, models.PaymentResult, error)
	Refund(ctx context.Context, bookingID string, amountCents int64) (models.RefundResult, error)
}

// Exporter renders bookings of a date range as an XLSX workbook.
type Exporter interface {
	Range(from, to time.Time) (time.Time, time.Time, error)
	Write(ctx context.Context, w io.Writer, from, to time.Time) error
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// HTTPServer exposes the booking REST API alongside the gRPC service.
type HTTPServer struct {
	cfg      config.APIConfig
	bookings BookingAPI
	payments PaymentAPI
	reports  Exporter
	health   map[string]HealthCheck
	auth     *HTTPAuth
	server   *http.Server
	logger   zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, bookings BookingAPI, payments PaymentAPI, reports Exporter, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		bookings: bookings,
		payments: payments,
		reports:  reports,
		health:   make(map[string]HealthCheck),
		auth:     NewHTTPAuth(cfg),
		logger:   zerolog.Nop(),
	}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http").Logger()
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           loggingMiddleware(logger, srv.routes()),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.auth.Wrap)

	api.HandleFunc("/services", s.handleListServices).Methods(http.MethodGet)
	api.HandleFunc("/services/{id}/availability", s.handleAvailability).Methods(http.MethodGet)

	api.HandleFunc("/bookings", s.handleCreateBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings", s.handleListBookings).Methods(http.MethodGet)
	api.HandleFunc("/bookings/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}", s.handleGetBooking).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}", s.handleDeleteBooking).Methods(http.MethodDelete)
	api.HandleFunc("/bookings/{id}/{action:confirm|remind|start|no-show}", s.handleTransition).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/reschedule", s.handleReschedule).Methods(http.MethodPost)

	api.HandleFunc("/bookings/{id}/payments", s.handleStartPayment).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/refund", s.handleRefund).Methods(http.MethodPost)
	api.HandleFunc("/payments/{ref}/confirm", s.handleConfirmPayment).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// AddHealthCheck registers a named dependency check for /healthz.
func (s *HTTPServer) AddHealthCheck(name string, check HealthCheck) {
	s.health[name] = check
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.health))
	healthy := true
	for name, check := range s.health {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": checks})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": checks})
}

// fail writes the mapped error and logs server-side failures.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, body := errorResponse(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	} else {
		s.logger.Debug().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", code).Msg("request rejected")
	}
	writeJSON(w, code, body)
}
