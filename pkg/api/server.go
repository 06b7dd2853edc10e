package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/duskworks/coopcore/pkg/api/handlers"
	"github.com/duskworks/coopcore/pkg/instances"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/servers"
	"github.com/duskworks/coopcore/pkg/sessions"
	"github.com/duskworks/coopcore/pkg/store"
)

// APIServer is the operator-facing admin surface. It binds to a separate
// address from the game listener and carries no authentication of its own;
// deployments keep it on a private interface.
type APIServer struct {
	server *http.Server
}

type NewAPIServerOptions struct {
	Addr       string
	Fabric     *sessions.Fabric
	Instances  *instances.Registry
	Peers      *servers.PeerManager
	Repository store.Repository
	Metrics    *metrics.Registry
}

// NewAPIServer creates a new http.Server for handling admin requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	r := mux.NewRouter()
	r.HandleFunc("/admin/metrics", handlers.HandleDumpMetrics(opts.Metrics)).Methods(http.MethodGet)
	r.HandleFunc("/admin/integrity", handlers.HandleIntegrityCheck(opts.Repository)).Methods(http.MethodGet)
	r.HandleFunc("/admin/locations", handlers.HandleCreateLocation(opts.Instances)).Methods(http.MethodPost)
	r.HandleFunc("/admin/sessions", handlers.HandleListSessions(opts.Fabric)).Methods(http.MethodGet)
	r.HandleFunc("/admin/sessions/{sessionID}", handlers.HandleEndSession(opts.Fabric)).Methods(http.MethodDelete)
	r.HandleFunc("/admin/peers/{peerID}", handlers.HandleKickPeer(opts.Fabric, opts.Peers)).Methods(http.MethodDelete)
	r.HandleFunc("/admin/peers/{peerID}/transactions", handlers.HandleListTransactions(opts.Repository)).Methods(http.MethodGet)

	server := &http.Server{
		Addr:    opts.Addr,
		Handler: r,
	}
	return &APIServer{
		server: server,
	}
}

// Start starts the APIServer
func (s *APIServer) Start() error {
	log.Info("Admin API server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("Admin API server closed")
			return nil
		}
		return err
	}
	return nil
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
