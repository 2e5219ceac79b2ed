// Package xmlcurl serves the switch's dynamic configuration lookups:
// directory entries for registering phones, per-context dialplans, and the
// SIP endpoint profile with each tenant's carrier gateway.
package xmlcurl

import (
	"log/slog"
	"net/http"
	"strings"
	"text/template"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/namith-arrellio/fs-ec2/internal/directory"
)

// Server holds lookup handler dependencies and the chi router.
type Server struct {
	router     *chi.Mux
	dir        *directory.Directory
	socketAddr string
	bindIP     string
	logger     *slog.Logger
}

// NewServer creates the lookup handler with all routes mounted. socketAddr
// is the control listener address advertised in generated dialplans.
// metricsHandler and limiter may be nil.
func NewServer(dir *directory.Directory, socketAddr string, metricsHandler http.Handler, limiter *RateLimiter, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		dir:        dir,
		socketAddr: socketAddr,
		bindIP:     "0.0.0.0",
		logger:     logger.With("component", "xmlcurl"),
	}

	s.routes(metricsHandler, limiter)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all endpoints.
func (s *Server) routes(metricsHandler http.Handler, limiter *RateLimiter) {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	if limiter != nil {
		r.With(limiter.Middleware).Post("/freeswitch", s.handleLookup)
	} else {
		r.Post("/freeswitch", s.handleLookup)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleLookup answers one switch lookup. Unknown sections and failed
// lookups get the not-found document so the switch falls back to its
// static files instead of erroring.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("unparseable lookup request", "error", err)
		s.writeNotFound(w)
		return
	}

	switch section := r.PostFormValue("section"); section {
	case "directory":
		s.handleDirectory(w, r)
	case "dialplan":
		s.handleDialplan(w, r)
	case "configuration":
		s.handleConfiguration(w, r)
	default:
		s.logger.Debug("unknown lookup section", "section", section)
		s.writeNotFound(w)
	}
}

// handleDirectory answers a user lookup for registration or dial-string
// resolution. The lookup keys on the authenticating realm when present;
// the response echoes the requested domain so alias domains keep working.
func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	responseDomain := r.PostFormValue("domain")
	lookupDomain := r.PostFormValue("sip_auth_realm")
	if lookupDomain == "" {
		lookupDomain = responseDomain
	}
	userID := r.PostFormValue("user")

	s.logger.Info("directory lookup", "user", userID, "domain", lookupDomain)

	tenant, ok := s.dir.ByDomain(lookupDomain)
	if !ok {
		s.writeNotFound(w)
		return
	}
	user, ok := tenant.Users[userID]
	if !ok {
		s.writeNotFound(w)
		return
	}

	if responseDomain == "" {
		responseDomain = lookupDomain
	}
	s.writeDocument(w, userTmpl, userDoc{
		Domain:            responseDomain,
		UserID:            userID,
		Password:          user.Password,
		VoicemailPassword: user.VoicemailPassword,
		TollAllow:         user.TollAllow,
		DisplayName:       user.Name,
		Context:           tenant.Context,
		CallerID:          tenant.CallerID,
	})
}

// handleDialplan answers a routing plan lookup. Tenant contexts get their
// parking extension ahead of the catch-all socket handoff; public and
// unknown contexts get the socket handoff alone.
func (s *Server) handleDialplan(w http.ResponseWriter, r *http.Request) {
	callContext := r.PostFormValue("Caller-Context")

	s.logger.Info("dialplan lookup", "context", callContext)

	doc := dialplanDoc{
		Context:    callContext,
		SocketAddr: s.socketAddr,
	}
	if tenant, ok := s.dir.ByContext(callContext); ok {
		doc.ParkPattern = parkPattern(tenant.ParkSlots)
		doc.LotName = tenant.Domain
	}
	s.writeDocument(w, dialplanTmpl, doc)
}

// handleConfiguration answers module configuration lookups. Only the SIP
// endpoint profile is generated; everything else comes from static files.
func (s *Server) handleConfiguration(w http.ResponseWriter, r *http.Request) {
	keyValue := r.PostFormValue("key_value")

	s.logger.Info("configuration lookup", "key", keyValue)

	if keyValue != "sofia.conf" {
		s.writeNotFound(w)
		return
	}

	tenants := s.dir.Tenants()
	hosts := make([]string, len(tenants))
	gateways := make([]directory.Trunk, len(tenants))
	for i, t := range tenants {
		hosts[i] = t.Domain
		gateways[i] = t.Trunk
	}

	s.writeDocument(w, sofiaTmpl, sofiaDoc{
		BindIP:        s.bindIP,
		PresenceHosts: strings.Join(hosts, ","),
		Gateways:      gateways,
	})
}

func (s *Server) writeDocument(w http.ResponseWriter, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/xml")
	if err := tmpl.Execute(w, data); err != nil {
		s.logger.Error("rendering lookup document", "error", err)
	}
}

func (s *Server) writeNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(notFoundXML))
}
