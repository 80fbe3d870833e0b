// Package server exposes the ConvHub job lifecycle over HTTP and WebSocket.
//
// REST endpoints drive job creation and lifecycle transitions; the /ws
// endpoint lets clients watch a job and receive its refreshed applicant
// list on every confirmed write, replacing client-side polling.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/convhub/convhub/blob"
	"github.com/convhub/convhub/config"
	"github.com/convhub/convhub/job"
	"github.com/convhub/convhub/user"
)

// HubServer serves the ConvHub API. All collaborators are injected through
// New; the server owns no process-wide mutable state.
type HubServer struct {
	db       *sql.DB
	store    *job.Store
	workflow *job.Workflow
	queries  *job.Queries
	users    *user.Store
	blobs    *blob.Store
	notifier *job.Notifier
	identity job.Identity

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	allowedOrigins []string
	uploadLimiter  *rate.Limiter

	mux        *http.ServeMux
	httpServer *http.Server
	logger     *zap.SugaredLogger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// maxClients caps concurrent WebSocket connections.
const maxClients = 256

// New creates a HubServer wired to its collaborators.
func New(db *sql.DB, cfg *config.Config, blobs *blob.Store, logger *zap.SugaredLogger) *HubServer {
	ctx, cancel := context.WithCancel(context.Background())

	store := job.NewStore(db)
	notifier := job.NewNotifier()

	perMinute := cfg.Server.UploadsPerMinute
	if perMinute <= 0 {
		perMinute = 30
	}

	s := &HubServer{
		db:             db,
		store:          store,
		workflow:       job.NewWorkflow(store, notifier, logger),
		queries:        job.NewQueries(store, logger),
		users:          user.NewStore(db),
		blobs:          blobs,
		notifier:       notifier,
		identity:       HeaderIdentity{},
		clients:        make(map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		allowedOrigins: cfg.Server.AllowedOrigins,
		uploadLimiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		mux:            http.NewServeMux(),
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
	}

	s.setupHTTPRoutes()
	return s
}

// Start begins serving on the given port and blocks until the listener
// stops. Client registration runs on a dedicated goroutine so WebSocket
// setup never races map access.
func (s *HubServer) Start(port int) error {
	s.wg.Add(1)
	go s.runClientLoop()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Infow("ConvHub server listening", "port", port)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server, closes all client connections, and waits for
// background goroutines to finish.
func (s *HubServer) Shutdown(ctx context.Context) error {
	s.logger.Infow("ConvHub server shutting down")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.cancel()

	s.mu.Lock()
	for client := range s.clients {
		client.close()
	}
	s.clients = make(map[*Client]bool)
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// runClientLoop serializes client register/unregister events.
func (s *HubServer) runClientLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		}
	}
}

func (s *HubServer) handleClientRegister(client *Client) {
	s.mu.Lock()
	if len(s.clients) >= maxClients {
		s.mu.Unlock()
		s.logger.Warnw("Client limit reached, rejecting connection",
			"client_id", client.id,
			"limit", maxClients,
		)
		client.close()
		client.conn.Close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected",
		"client_id", client.id,
		"total_clients", total,
	)
}

func (s *HubServer) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		client.close()
	}
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client disconnected",
		"client_id", client.id,
		"total_clients", total,
	)
}
