package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"lanshare/catalog"
	"lanshare/discovery"
	"lanshare/logger"
	"lanshare/storage"
)

const (
	// DefaultReadHeaderTimeout bounds how long a client may take to send headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultQRSize is the edge length in pixels of generated QR PNGs.
	DefaultQRSize = 256
	// DefaultTransferLimit is the history page size when none is requested.
	DefaultTransferLimit = 50
)

// Discoverer performs one on-demand peer scan.
type Discoverer interface {
	Discover(ctx context.Context) ([]discovery.DiscoveredPeer, error)
}

// TransferHistory records and lists transfer outcomes.
type TransferHistory interface {
	RecordTransfer(transfer storage.Transfer) (string, error)
	ListTransfers(filter storage.TransferFilter) ([]storage.Transfer, error)
	GetTransfer(transferID string) (*storage.Transfer, error)
}

// Options configures the HTTP file service.
type Options struct {
	Catalog    *catalog.Store
	Identity   discovery.Announcement
	Discoverer Discoverer
	History    TransferHistory

	QRSize            int
	ReadHeaderTimeout time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.QRSize <= 0 {
		out.QRSize = DefaultQRSize
	}
	if out.ReadHeaderTimeout <= 0 {
		out.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	return out
}

func (o Options) validate() error {
	if o.Catalog == nil {
		return errors.New("catalog is required")
	}
	if o.Discoverer == nil {
		return errors.New("discoverer is required")
	}
	return nil
}

// Server is the HTTP file service: upload, catalog listing, download,
// discovery and identity endpoints.
type Server struct {
	opts Options

	httpServer *http.Server
	listener   net.Listener
	errs       chan error

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewServer builds the service without binding a socket.
func NewServer(options Options) (*Server, error) {
	opts := options.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	s := &Server{
		opts: opts,
		errs: make(chan error, 1),
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}
	return s, nil
}

// Listen binds address and serves in the background.
func Listen(address string, options Options) (*Server, error) {
	s, err := NewServer(options)
	if err != nil {
		return nil, err
	}

	if address == "" {
		address = ":" + strconv.Itoa(options.Identity.Port)
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.serve()

	logger.Infof("network: serving files on http://%s", listener.Addr())
	return s, nil
}

// Addr returns the listening address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Errors reports a fatal serve error. It is closed after shutdown.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.closeOnce.Do(func() {
		shutdownErr = s.httpServer.Shutdown(ctx)
		s.wg.Wait()
		close(s.errs)
	})
	return shutdownErr
}

// Close shuts the server down with a short grace period.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

func (s *Server) serve() {
	defer s.wg.Done()

	err := s.httpServer.Serve(s.listener)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	select {
	case s.errs <- fmt.Errorf("serve http: %w", err):
	default:
	}
}

// Handler returns the routed handler wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /discover", s.handleDiscover)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /files", s.handleFiles)
	mux.HandleFunc("GET /download/{filename}", s.handleDownload)
	mux.HandleFunc("GET /server-info", s.handleServerInfo)
	mux.HandleFunc("GET /transfers", s.handleTransfers)
	mux.HandleFunc("GET /transfers/{id}", s.handleTransfer)
	return logRequests(allowCrossOrigin(mux))
}
