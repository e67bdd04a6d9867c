package transfer

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localsend/localsend-cli/catalog"
	"github.com/localsend/localsend-cli/identity"
	"github.com/localsend/localsend-cli/log"
	"github.com/localsend/localsend-cli/metrics"
	"github.com/localsend/localsend-cli/protocol"
)

// ServerConfig carries everything the sender-side HTTPS server needs.
type ServerConfig struct {
	Identity *identity.Identity
	Catalog  *catalog.Catalog

	// Phrase is the canonical code phrase; handshake proofs are verified
	// against it.
	Phrase string

	// Port to bind, 0 for an ephemeral port.
	Port int

	// OnDelivered, when set, is called after each file has been fully
	// streamed to the receiver.
	OnDelivered func(protocol.FileDescriptor)
}

// Server terminates TLS with the sender's session certificate and serves
// the LocalSend v2 endpoints: /info, /prepare-upload and /download under
// the API prefix. It owns the session id, the delivered-file counter and
// the rate limiter; those are the only state shared between handlers.
type Server struct {
	cfg     ServerConfig
	info    protocol.DeviceInfo
	limiter *rateLimiter

	httpSrv  *http.Server
	listener net.Listener

	mu         sync.Mutex
	started    bool
	closed     bool
	sessionID  string
	delivered  int
	completing bool

	connectedCh chan struct{}
	doneCh      chan struct{}
	doneOnce    sync.Once

	wg  sync.WaitGroup
	log *log.Logger
}

// NewServer builds a Server; Start binds the port and begins serving.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		cfg: cfg,
		info: protocol.DeviceInfo{
			Alias:       protocol.Alias,
			Version:     protocol.Version,
			DeviceModel: protocol.DeviceModel,
			DeviceType:  protocol.DeviceTypeHeadless,
			Fingerprint: cfg.Identity.Fingerprint(),
			Download:    true,
		},
		limiter:     newRateLimiter(rateLimitWindow, rateLimitMax),
		connectedCh: make(chan struct{}),
		doneCh:      make(chan struct{}),
		log:         log.Default().Module("transfer"),
	}
}

// Start binds the configured port and serves TLS until Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("transfer: listen error: %w", err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           http.HandlerFunc(s.route),
		TLSConfig:         s.cfg.Identity.ServerTLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// The certificate comes from TLSConfig, so no key files here.
		if err := s.httpSrv.ServeTLS(ln, "", ""); err != nil && err != http.ErrServerClosed {
			s.log.Debug("server stopped", "err", err)
		}
	}()

	s.started = true
	s.log.Info("transfer server listening", "port", s.port(), "files", s.cfg.Catalog.Count())
	return nil
}

// Stop closes the listener and all active connections. Safe to call more
// than once.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if started {
		s.httpSrv.Close()
	}
	s.wg.Wait()
}

// Port reports the bound TCP port, 0 before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port()
}

func (s *Server) port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Connected is closed when the first receiver completes the handshake.
func (s *Server) Connected() <-chan struct{} { return s.connectedCh }

// Done is closed once every catalog file has been delivered, after a short
// grace period for network buffers.
func (s *Server) Done() <-chan struct{} { return s.doneCh }

// DeliveredCount reports how many files have been fully streamed.
func (s *Server) DeliveredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

// statusRecorder tracks whether anything has been written to the response,
// which decides how a handler panic is surfaced.
type statusRecorder struct {
	http.ResponseWriter
	wrote bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.wrote = true
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(p []byte) (int, error) {
	sr.wrote = true
	return sr.ResponseWriter.Write(p)
}

// route is the single entry point: it verifies the API prefix, applies the
// rate limit, then dispatches on the path suffix.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w}
	defer func() {
		if v := recover(); v != nil {
			s.log.Error("handler panic", "path", r.URL.Path, "panic", v)
			if !rec.wrote {
				http.Error(rec, "internal server error", http.StatusInternalServerError)
				return
			}
			// Response already committed; drop the connection.
			panic(http.ErrAbortHandler)
		}
	}()

	metrics.HTTPRequests.Inc()
	metrics.HTTPInFlight.Inc()
	defer metrics.HTTPInFlight.Dec()
	timer := metrics.NewTimer(metrics.HTTPRequestTime)
	defer timer.Stop()

	if !strings.HasPrefix(r.URL.Path, protocol.APIPrefix) {
		http.NotFound(rec, r)
		return
	}
	if !s.limiter.Allow(clientIP(r)) {
		metrics.HTTPRateLimited.Inc()
		s.log.Warn("rate limit exceeded", "peer", clientIP(r), "path", r.URL.Path)
		http.Error(rec, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	switch path := r.URL.Path; {
	case strings.HasSuffix(path, protocol.InfoPath):
		s.handleInfo(rec, r)
	case strings.HasSuffix(path, protocol.PrepareUploadPath):
		s.handlePrepareUpload(rec, r)
	case strings.HasSuffix(path, protocol.DownloadPath):
		s.handleDownload(rec, r)
	default:
		http.NotFound(rec, r)
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.info)
}

func (s *Server) handlePrepareUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	var req protocol.PrepareUploadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if req.CliAuth == nil {
		metrics.HTTPAuthFailures.Inc()
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	ts, err := protocol.ParseTimestamp(req.CliAuth.Timestamp)
	if err != nil || !protocol.WithinAuthWindow(ts, time.Now()) {
		metrics.HTTPAuthFailures.Inc()
		http.Error(w, "authentication expired", http.StatusUnauthorized)
		return
	}
	if !protocol.VerifyProof(s.cfg.Phrase, req.CliAuth.Timestamp, s.info.Fingerprint, req.CliAuth.Proof) {
		metrics.HTTPAuthFailures.Inc()
		s.log.Warn("handshake proof mismatch", "peer", clientIP(r))
		http.Error(w, "invalid proof", http.StatusForbidden)
		return
	}

	// First successful handshake opens the session and signals the
	// connected barrier; later calls get the same session back.
	s.mu.Lock()
	if s.sessionID == "" {
		s.sessionID = uuid.NewString()
		close(s.connectedCh)
		metrics.SessionsOpened.Inc()
		s.log.Info("receiver connected", "peer", clientIP(r), "alias", req.Info.Alias)
	}
	sid := s.sessionID
	s.mu.Unlock()

	writeJSON(w, protocol.PrepareUploadResponse{
		SessionID: sid,
		Files:     s.cfg.Catalog.Files(),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	s.mu.Lock()
	active := s.sessionID
	s.mu.Unlock()
	if active == "" || q.Get("sessionId") != active {
		http.Error(w, "invalid session", http.StatusForbidden)
		return
	}

	fd, ok := s.cfg.Catalog.Get(q.Get("fileId"))
	if !ok {
		http.Error(w, "unknown file", http.StatusNotFound)
		return
	}
	f, err := s.cfg.Catalog.Open(fd.ID)
	if err != nil {
		http.Error(w, "file unavailable", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fd.Name))
	w.Header().Set("Content-Length", strconv.FormatUint(fd.Size, 10))

	cw := &countingWriter{w: w}
	if _, err := io.Copy(cw, f); err != nil {
		s.log.Warn("download interrupted", "file", fd.Name, "sent", cw.n, "err", err)
		return
	}
	if uint64(cw.n) != fd.Size {
		s.log.Warn("short download", "file", fd.Name, "sent", cw.n, "size", fd.Size)
		return
	}

	metrics.BytesSent.Mark(cw.n)
	metrics.FilesDelivered.Inc()
	s.fileDelivered(fd)
}

// fileDelivered advances the delivered counter and, when it reaches the
// catalog size, schedules the one-shot completion barrier. Counter update
// and barrier decision happen under the same lock.
func (s *Server) fileDelivered(fd protocol.FileDescriptor) {
	s.mu.Lock()
	s.delivered++
	if s.delivered == s.cfg.Catalog.Count() && !s.completing {
		s.completing = true
		time.AfterFunc(completionDelay, func() {
			s.doneOnce.Do(func() { close(s.doneCh) })
		})
	}
	s.mu.Unlock()

	s.log.Info("file delivered", "name", fd.Name, "size", fd.Size)
	if s.cfg.OnDelivered != nil {
		s.cfg.OnDelivered(fd)
	}
}

// countingWriter counts the bytes written through it so delivery is only
// recorded after the full body went out.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// clientIP extracts the host part of the request's remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
