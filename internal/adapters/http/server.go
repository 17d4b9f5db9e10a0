// Package httpadapter exposes the engine over a JSON HTTP API.
package httpadapter

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"foodrescue/internal/ports"
	"foodrescue/internal/workers/auditrunner"
)

const (
	RequesterHeader = "X-Requester-ID"
	CourierHeader   = "X-Courier-ID"

	defaultWaitTimeout = 30
	maxBodyBytes       = 8 << 20
)

type Deps struct {
	Auditor     ports.Auditor
	Submissions ports.Submissions
	Donations   ports.Donations
	Claims      ports.Claims
	Jobs        ports.SubmissionRepository
	Processor   auditrunner.Processor
	// StrictQuantity rejects claim quantities that are not plain positive
	// integers instead of coercing them.
	StrictQuantity bool
	Log            *zap.Logger
}

type Server struct {
	Deps
}

func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Server{Deps: d}
}

// Routes returns a chi.Router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.getHealthz)
	r.Post("/audits", s.postAudit)

	r.Route("/submissions", func(r chi.Router) {
		r.Post("/", s.postSubmission)
		r.Get("/{id}", s.getSubmission)
	})
	r.Route("/donations", func(r chi.Router) {
		r.Get("/", s.listDonations)
		r.Get("/{id}", s.getDonation)
		r.Post("/{id}/claims", s.postClaim)
	})
	r.Route("/claims", func(r chi.Router) {
		r.Get("/", s.listClaims)
		r.Post("/{id}/verify", s.verifyClaim)
		r.Post("/{id}/cancel", s.cancelClaim)
		r.Post("/{id}/courier", s.advanceCourier)
	})
	r.Get("/requesters/{id}/impact", s.requesterImpact)
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.Log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
