// Package httpapi exposes the platform over HTTP forms and JSON responses.
package httpapi

import (
	"log"
	"net/http"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/blob"
	"github.com/sirdesai22/event-service/internal/certificates"
	"github.com/sirdesai22/event-service/internal/enrollment"
	"github.com/sirdesai22/event-service/internal/events"
	"github.com/sirdesai22/event-service/internal/identity"
	"github.com/sirdesai22/event-service/internal/lifecycle"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
	"github.com/sirdesai22/event-service/internal/projects"
	"github.com/sirdesai22/event-service/internal/scoring"
	"github.com/sirdesai22/event-service/internal/workers"
	"gorm.io/gorm"
)

type Server struct {
	DB           *gorm.DB
	Identity     *identity.Registry
	Events       *events.Registry
	Lifecycle    *lifecycle.Controller
	Enrollment   *enrollment.Engine
	Projects     *projects.Service
	Scoring      *scoring.Engine
	Certificates *certificates.Service
	Dispatcher   *notify.Dispatcher
	Retrier      *workers.Retrier
	Blobs        blob.Store
	ES           *es.Client
	Sessions     Sessions
	CORSOrigins  []string
	// Metrics serves /metrics; nil uses the default registry.
	Metrics http.Handler
}

type handler func(w http.ResponseWriter, r *http.Request, act actor.Context) error

// authed requires a valid session.
func (s *Server) authed(h handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := token(r)
		if raw == "" {
			writeError(w, r, apperr.New(apperr.CodeAuthNotFound, "login required"))
			return
		}
		act, err := s.Sessions.Parse(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := h(w, r, act); err != nil {
			writeError(w, r, err)
		}
	}
}

// public serves anonymous callers; a valid session is still picked up.
func (s *Server) public(h handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		act := actor.System
		if raw := token(r); raw != "" {
			if parsed, err := s.Sessions.Parse(raw); err == nil {
				act = parsed
			}
		}
		if err := h(w, r, act); err != nil {
			writeError(w, r, err)
		}
	}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	metrics := s.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	mux.Handle("GET /metrics", metrics)
	mux.HandleFunc("GET /healthz", s.healthz)

	// sessions and profile
	mux.HandleFunc("POST /login", s.public(s.login))
	mux.HandleFunc("POST /logout", s.public(s.logout))
	mux.HandleFunc("POST /password", s.authed(s.changePassword))
	mux.HandleFunc("POST /perfil", s.authed(s.updateProfile))
	mux.HandleFunc("DELETE /perfil", s.authed(s.removeProfile))
	mux.HandleFunc("GET /mis-inscripciones", s.authed(s.myEnrollments))

	// public catalogue
	mux.HandleFunc("GET /{$}", s.public(s.listEvents))
	mux.HandleFunc("GET /buscar", s.public(s.search))
	mux.HandleFunc("GET /evento/{id}", s.public(s.eventDetail))
	mux.HandleFunc("GET /areas", s.public(s.listAreas))
	mux.HandleFunc("GET /categorias", s.public(s.listCategories))
	mux.HandleFunc("POST /preins/{rol}/{event}", s.public(s.preinscribe))

	// event administration
	mux.HandleFunc("GET /mis-eventos", s.authed(s.myEvents))
	mux.HandleFunc("POST /evento", s.authed(s.createEvent))
	mux.HandleFunc("PUT /evento/{id}", s.authed(s.updateEvent))
	mux.HandleFunc("GET /evento/{id}/admin", s.authed(s.eventForAdmin))
	mux.HandleFunc("POST /evento/{id}/publicar", s.authed(s.setState(models.EventPublished)))
	mux.HandleFunc("POST /evento/{id}/finalizar", s.authed(s.setState(models.EventFinalized)))
	mux.HandleFunc("POST /evento/{id}/categorias", s.authed(s.setCategories))
	mux.HandleFunc("GET /evento/{id}/estadisticas", s.authed(s.eventStats))
	mux.HandleFunc("GET /evento/{id}/inscripciones", s.authed(s.listEnrollments))
	mux.HandleFunc("POST /evento/{id}/anuncio", s.authed(s.announce))
	mux.HandleFunc("POST /evento/{id}/ingreso", s.authed(s.checkIn))
	for short, role := range roleShort {
		mux.HandleFunc("POST /evento/{id}/aprobar_"+short+"/{enrollment}", s.authed(s.review(role, true)))
		mux.HandleFunc("POST /evento/{id}/rechazar_"+short+"/{enrollment}", s.authed(s.review(role, false)))
	}
	for name, role := range rolePaths {
		mux.HandleFunc("POST /evento/{id}/cambiar_preinscripcion_"+name, s.authed(s.togglePreinscription(role)))
	}

	// lifecycle
	mux.HandleFunc("POST /evento/{id}/cancelar_conteo", s.authed(s.softCancel))
	mux.HandleFunc("POST /evento/{id}/revertir", s.authed(s.revert))
	mux.HandleFunc("POST /evento/{id}/archivar", s.authed(s.archive))
	mux.HandleFunc("POST /evento/{id}/reactivar", s.authed(s.reactivate))
	mux.HandleFunc("GET /evento/{id}/auditoria", s.authed(s.auditTrail))

	// enrollments
	mux.HandleFunc("GET /inscripcion/{id}", s.authed(s.getEnrollment))
	mux.HandleFunc("PUT /inscripcion/{id}/documentos", s.authed(s.updateDocuments))
	mux.HandleFunc("POST /evento/{id}/cancelar_inscripcion", s.authed(s.cancelEnrollment))

	// projects
	mux.HandleFunc("GET /proyecto/{leader}", s.authed(s.getProject))
	mux.HandleFunc("POST /proyecto/{leader}/miembros", s.authed(s.addMember))
	mux.HandleFunc("DELETE /proyecto/{leader}/miembros/{member}", s.authed(s.removeMember))
	mux.HandleFunc("POST /proyecto/{leader}/lider/{member}", s.authed(s.transferLeadership))
	mux.HandleFunc("GET /proyecto/{leader}/calificaciones", s.authed(s.scoreSheet))

	// rubric and scoring
	mux.HandleFunc("GET /evento/{id}/criterios", s.authed(s.listCriteria))
	mux.HandleFunc("POST /evento/{id}/criterios", s.authed(s.addCriterion))
	mux.HandleFunc("PUT /evento/{id}/criterios/{criterio}", s.authed(s.updateCriterion))
	mux.HandleFunc("DELETE /evento/{id}/criterios/{criterio}", s.authed(s.deleteCriterion))
	mux.HandleFunc("POST /evaluador/calificar/{leader}/{event}", s.authed(s.recordScores))
	mux.HandleFunc("GET /evaluador/pendientes/{event}", s.authed(s.pendingProjects))
	mux.HandleFunc("GET /evento/{id}/ranking", s.public(s.ranking))
	mux.HandleFunc("GET /evento/{id}/podio", s.public(s.podium))

	// certificates and memories
	mux.HandleFunc("POST /evento/{id}/premiar", s.authed(s.awardPodium))
	mux.HandleFunc("POST /evento/{id}/certificados/{rol}", s.authed(s.issueAll))
	mux.HandleFunc("POST /inscripcion/{id}/certificado", s.authed(s.issueCertificate))
	mux.HandleFunc("GET /evento/{id}/memorias", s.authed(s.listMemories))
	mux.HandleFunc("POST /evento/{id}/memorias", s.authed(s.addMemory))
	mux.HandleFunc("GET /memoria/{id}", s.authed(s.openMemory))
	mux.HandleFunc("DELETE /memoria/{id}", s.authed(s.deleteMemory))

	// superadmin
	mux.HandleFunc("POST /admin/invitaciones", s.authed(s.inviteAdmin))
	mux.HandleFunc("POST /admin/registro/{token}", s.public(s.registerAdmin))
	mux.HandleFunc("POST /admin/activar/{person}", s.authed(s.activateAdmin))
	mux.HandleFunc("POST /areas", s.authed(s.createArea))
	mux.HandleFunc("POST /categorias", s.authed(s.createCategory))
	mux.HandleFunc("POST /admin/dlq/{id}/reintentar", s.authed(s.requeueDLQ))
	mux.HandleFunc("POST /admin/reindexar", s.authed(s.reindex))

	c := cors.New(cors.Options{
		AllowedOrigins:   s.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(logRequests(mux))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path != "/metrics" && r.URL.Path != "/healthz" {
			log.Printf("🌐 %s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
		}
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
