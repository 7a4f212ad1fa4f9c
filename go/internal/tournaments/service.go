package tournaments

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tourney/go/internal/models"
)

const maxBodyBytes = 1 << 20

// Service exposes the tournament App over HTTP/JSON
type Service struct {
	app       *App
	authorize func(http.Handler) http.Handler
	rateLimit func(http.Handler) http.Handler
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithAuthorizer guards POST, PUT and DELETE.
func WithAuthorizer(mw func(http.Handler) http.Handler) ServiceOption {
	return func(s *Service) {
		if mw != nil {
			s.authorize = mw
		}
	}
}

// WithWriteRateLimit limits mutations per client IP. A limit <= 0 disables it.
func WithWriteRateLimit(limit int, window time.Duration) ServiceOption {
	return func(s *Service) {
		if limit <= 0 {
			return
		}
		s.rateLimit = httprate.Limit(
			limit,
			window,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
			}),
		)
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// NewService creates a new tournaments Service
func NewService(app *App, opts ...ServiceOption) *Service {
	s := &Service{
		app:       app,
		authorize: passthrough,
		rateLimit: passthrough,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the /tournaments router.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.List)
	r.Get("/{id}", s.Get)
	r.Get("/{id}/api-url", s.GetAPIURL)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.authorize)
		r.Post("/", s.Create)
		r.Put("/{id}", s.Update)
		r.Delete("/{id}", s.Delete)
	})

	return r
}

func (s *Service) List(w http.ResponseWriter, r *http.Request) {
	tournaments, err := s.app.ListTournaments(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tournaments)
}

func (s *Service) Get(w http.ResponseWriter, r *http.Request) {
	tournament, err := s.app.GetTournament(r.Context(), tournamentID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tournament)
}

func (s *Service) GetAPIURL(w http.ResponseWriter, r *http.Request) {
	apiURL, err := s.app.GetTournamentAPIURL(r.Context(), tournamentID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIURLResponse{APIURL: apiURL})
}

func (s *Service) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTournamentRequest
	if !decode(w, r, &req) {
		return
	}

	tournament, err := s.app.CreateTournament(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tournament)
}

func (s *Service) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateTournamentRequest
	if !decode(w, r, &req) {
		return
	}

	tournament, err := s.app.UpdateTournament(r.Context(), tournamentID(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tournament)
}

func (s *Service) Delete(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteTournament(r.Context(), tournamentID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func tournamentID(r *http.Request) models.TournamentID {
	return models.TournamentID(chi.URLParam(r, "id"))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// fail maps app errors onto the service's status codes.
func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Tournament not found")
	case errors.Is(err, models.ErrNoFieldsToUpdate):
		writeError(w, http.StatusBadRequest, "No fields to update")
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	default:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
