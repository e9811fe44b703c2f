// Package api serves the aggregator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rudmsa/feedagg/internal/aggregator"
	"github.com/rudmsa/feedagg/internal/client"
	"github.com/rudmsa/feedagg/internal/config"
	"github.com/rudmsa/feedagg/internal/feed"
	"github.com/rudmsa/feedagg/internal/market"
	"github.com/rudmsa/feedagg/internal/state"
)

// Facade is the blocking client API the server drives. *client.Client
// satisfies it.
type Facade interface {
	Start(ch market.Channel) error
	Stop(ch market.Channel) error
	Tape(ch market.Channel) ([]market.Trade, error)
	Book(ch market.Channel) (*state.Book, error)
	Last(ch market.Channel) (time.Time, error)
}

type Server struct {
	router *mux.Router
	server *http.Server
	facade Facade
	log    logrus.FieldLogger
}

func NewServer(cfg config.HTTPConfig, facade Facade, gatherer prometheus.Gatherer, log logrus.FieldLogger) *Server {
	s := &Server{
		router: mux.NewRouter().UseEncodedPath(),
		facade: facade,
		log:    log,
	}
	s.setupRoutes(gatherer)
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.health).Methods(http.MethodGet)

	const channel = "/channels/{exchange}/{kind}/{market}"
	api.HandleFunc(channel, s.start).Methods(http.MethodPost)
	api.HandleFunc(channel, s.stop).Methods(http.MethodDelete)
	api.HandleFunc(channel+"/tape", s.tape).Methods(http.MethodGet)
	api.HandleFunc(channel+"/book", s.book).Methods(http.MethodGet)
	api.HandleFunc(channel+"/last", s.last).Methods(http.MethodGet)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.server.Addr).Info("http server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()
	return s.server.Shutdown(shutdownCtx)
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID)))
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		s.log.WithFields(logrus.Fields{
			"request_id": r.Context().Value(requestIDKey{}),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     wrapper.statusCode,
			"duration":   time.Since(start).String(),
		}).Debug("http request")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func channelFromRequest(r *http.Request) (market.Channel, error) {
	vars := mux.Vars(r)
	values := make([]string, 0, 3)
	for _, key := range []string{"exchange", "kind", "market"} {
		v, err := url.PathUnescape(vars[key])
		if err != nil {
			return market.Channel{}, err
		}
		values = append(values, v)
	}
	return market.ParseChannel(values[0], values[1], values[2])
}

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, aggregator.ErrChannelAlreadySubscribed):
		return http.StatusConflict
	case errors.Is(err, aggregator.ErrChannelDoesNotExist), errors.Is(err, aggregator.ErrSocketDoesNotExist):
		return http.StatusNotFound
	case errors.Is(err, client.ErrUnexpectedShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, feed.ErrTransport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Warn("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, errorBody{Error: err.Error()})
}

// withChannel parses the channel path and hands it to fn. Errors returned by
// fn are mapped to a status code.
func (s *Server) withChannel(w http.ResponseWriter, r *http.Request, fn func(market.Channel) (int, interface{}, error)) {
	ch, err := channelFromRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	code, body, err := fn(ch)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, code, body)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	s.withChannel(w, r, func(ch market.Channel) (int, interface{}, error) {
		if err := s.facade.Start(ch); err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, map[string]string{"channel": ch.String(), "status": aggregator.Subscribed.String()}, nil
	})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	s.withChannel(w, r, func(ch market.Channel) (int, interface{}, error) {
		if err := s.facade.Stop(ch); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]string{"channel": ch.String(), "status": aggregator.Unsubscribed.String()}, nil
	})
}

func (s *Server) tape(w http.ResponseWriter, r *http.Request) {
	s.withChannel(w, r, func(ch market.Channel) (int, interface{}, error) {
		trades, err := s.facade.Tape(ch)
		if err != nil {
			return 0, nil, err
		}
		if trades == nil {
			trades = []market.Trade{}
		}
		return http.StatusOK, trades, nil
	})
}

func (s *Server) book(w http.ResponseWriter, r *http.Request) {
	s.withChannel(w, r, func(ch market.Channel) (int, interface{}, error) {
		b, err := s.facade.Book(ch)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, b, nil
	})
}

func (s *Server) last(w http.ResponseWriter, r *http.Request) {
	s.withChannel(w, r, func(ch market.Channel) (int, interface{}, error) {
		last, err := s.facade.Last(ch)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]time.Time{"last": last.UTC()}, nil
	})
}
