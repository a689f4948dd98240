// Package node builds the node's public HTTP surface: file fetch, speed
// test, and server command routes, plus the fixed favicon/robots/404
// responses. TLS termination (certificate parsing, acceptor hot swap) is
// named as a boundary (see CertSource) rather than implemented in depth.
package node

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hathnode/node/internal/authgate"
	"github.com/hathnode/node/internal/dispatcher"
	"github.com/hathnode/node/internal/metrics"
	"github.com/hathnode/node/internal/settings"
	"github.com/hathnode/node/internal/streamfetch"
	"github.com/hathnode/node/pkg/artifact"
	"github.com/hathnode/node/pkg/cacheerr"
)

const (
	// HandshakeTimeout bounds the TLS handshake for an incoming connection.
	HandshakeTimeout = 10 * time.Second
	// ConnectionLifetime is the 120-second lifetime limit for a single
	// accepted connection. Neither this package nor cmd/hathnode applies
	// it to the http.Server, so connections are not closed on that account.
	ConnectionLifetime = 120 * time.Second

	speedTestFrameSize = 64 * 1024
	faviconRedirect    = "https://e-hentai.org/favicon.ico"
	robotsBody         = "User-agent: *\nDisallow: /"
	stillAliveBody     = "I feel FANTASTIC and I'm still alive"
)

// Server holds the collaborators the public routes need: the auth gate,
// the settings mirror, the streaming fetcher, the dispatcher boundary,
// and the metrics collector.
type Server struct {
	Gate       *authgate.Gate
	Settings   *settings.Settings
	Fetcher    *streamfetch.Fetcher
	Dispatcher dispatcher.Dispatcher
	Metrics    *metrics.Collector
	Log        *slog.Logger

	// Now returns the current Unix time; overridable in tests.
	Now func() uint64

	handler http.Handler
}

// New builds a Server and its route table.
func New(gate *authgate.Gate, set *settings.Settings, fetcher *streamfetch.Fetcher, disp dispatcher.Dispatcher, coll *metrics.Collector, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		Gate:       gate,
		Settings:   set,
		Fetcher:    fetcher,
		Dispatcher: disp,
		Metrics:    coll,
		Log:        log,
		Now:        func() uint64 { return uint64(time.Now().Unix()) },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /h/{fileid}/{extra}", s.handleFileFetch)
	mux.HandleFunc("GET /h/{fileid}/{extra}/{filename}", s.handleFileFetch)
	mux.HandleFunc("GET /t/{size}/{time}/{key}/{nonce}", s.handleSpeedTest)
	mux.HandleFunc("GET /servercmd/{cmd}/{extra}/{time}/{key}", s.handleServerCommand)
	mux.HandleFunc("GET /favicon.ico", s.handleFavicon)
	mux.HandleFunc("GET /robots.txt", s.handleRobots)
	mux.HandleFunc("/", s.handleNotFound)

	s.handler = s.loggingMiddleware(mux)
	return s
}

// Handler returns the node's public route table as an http.Handler,
// suitable for use with net/http.Server or a TLS-terminating listener.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.Log.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleFileFetch(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("fileid")
	extra := r.PathValue("extra")

	a, err := artifact.ParseFilename(fileID, '-')
	if err != nil {
		writeError(w, cacheerr.New(cacheerr.KindBadRequest, "malformed file id"))
		return
	}

	if !s.Gate.InStaticRange(a.Hash.StaticRange()) {
		writeError(w, cacheerr.New(cacheerr.KindBadRequest, "hash outside served static range"))
		return
	}

	kv := parseKV(extra)
	keystamp, ok := kv["keystamp"]
	if !ok {
		writeError(w, cacheerr.New(cacheerr.KindBadRequest, "missing keystamp"))
		return
	}
	fileIndex, hasFileIndex := kv["fileindex"]
	xres, hasXres := kv["xres"]
	if !hasFileIndex || !hasXres {
		writeError(w, cacheerr.New(cacheerr.KindBadRequest, "missing fileindex/xres"))
		return
	}

	stampTime, hashPart, err := authgate.ParseKeystamp(keystamp)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Gate.VerifyFileFetch(s.Now(), fileID, stampTime, hashPart); err != nil {
		writeError(w, err)
		return
	}

	res, err := s.Fetcher.Fetch(r.Context(), a, fileIndex, xres)
	if err != nil {
		writeError(w, err)
		return
	}
	defer res.Reader.Close()

	if s.Metrics != nil {
		if res.Hit {
			s.Metrics.RecordHit()
		} else {
			s.Metrics.RecordMiss()
		}
	}

	w.Header().Set("Content-Type", a.Media.MIME())
	if res.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
	}
	if _, err := io.Copy(w, res.Reader); err != nil {
		s.Log.Debug("file fetch: client stream ended early", "hash", a.Hash.String(), "error", err)
	}
}

func (s *Server) handleSpeedTest(w http.ResponseWriter, r *http.Request) {
	sizeStr := r.PathValue("size")
	timeStr := r.PathValue("time")
	key := r.PathValue("key")

	size, err := strconv.ParseUint(sizeStr, 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := s.Gate.VerifySpeedTest(size, timeStr, key); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	writeSpeedTestBody(w, size)
}

// writeSpeedTestBody emits size zero bytes framed in 64 KiB chunks, per
// the speed-test payload contract.
func writeSpeedTestBody(w http.ResponseWriter, size uint64) {
	frame := make([]byte, speedTestFrameSize)
	for size > 0 {
		n := uint64(speedTestFrameSize)
		if size < n {
			n = size
		}
		if _, err := w.Write(frame[:n]); err != nil {
			return
		}
		size -= n
	}
}

func (s *Server) handleServerCommand(w http.ResponseWriter, r *http.Request) {
	cmd := r.PathValue("cmd")
	extra := r.PathValue("extra")
	timeStr := r.PathValue("time")
	key := r.PathValue("key")

	t, err := strconv.ParseUint(timeStr, 10, 64)
	if err != nil {
		writeError(w, cacheerr.New(cacheerr.KindBadRequest, "malformed time"))
		return
	}
	if err := s.Gate.VerifyServerCommand(s.Now(), cmd, extra, t, key); err != nil {
		writeError(w, err)
		return
	}

	switch cmd {
	case "still_alive":
		w.Write([]byte(stillAliveBody))
	case "speed_test":
		kv := parseKV(extra)
		size := uint64(1000000)
		if v, ok := kv["testsize"]; ok {
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				size = n
			}
		}
		writeSpeedTestBody(w, size)
	case "refresh_settings":
		s.refreshSettingsAsync()
		w.WriteHeader(http.StatusOK)
	case "refresh_certs", "threaded_proxy_test", "start_downloader":
		// Named boundaries (certificate rotation, cross-node proxy
		// timing, bulk gallery download) whose wire protocol is out of
		// scope; acknowledge so the dispatcher's command loop does not
		// stall waiting on a response.
		s.Log.Info("servercmd: acknowledging out-of-scope command", "command", cmd)
		w.WriteHeader(http.StatusOK)
	default:
		writeError(w, cacheerr.New(cacheerr.KindBadRequest, "unrecognized command"))
	}
}

func (s *Server) refreshSettingsAsync() {
	if s.Dispatcher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Dispatcher.UpdateSettings(ctx); err != nil {
			s.Log.Warn("refresh_settings: UpdateSettings failed", "error", err)
		}
	}()
}

func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Location", faviconRedirect)
	w.WriteHeader(http.StatusMovedPermanently)
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(robotsBody))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}

func writeError(w http.ResponseWriter, err error) {
	w.WriteHeader(cacheerr.HTTPStatus(err))
}

// parseKV parses a semicolon-separated list of k=v pairs.
func parseKV(s string) map[string]string {
	out := make(map[string]string)
	for _, tok := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// CertSource is the boundary between the node's HTTP router and the TLS
// acceptor: it supplies the current *tls.Config, hot-swappable under a
// readers-writer lock so in-flight connections are unaffected by a
// certificate rotation. Parsing the dispatcher-supplied PKCS12 bundle and
// wiring the ALPN callback are out of scope; only this reload contract is
// specified here.
type CertSource struct {
	mu  sync.RWMutex
	cfg *tls.Config
}

// NewCertSource wraps an initial TLS configuration.
func NewCertSource(cfg *tls.Config) *CertSource {
	return &CertSource{cfg: cfg}
}

// Config returns the current TLS configuration for GetConfigForClient.
func (c *CertSource) Config() *tls.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Reload atomically swaps in a newly parsed TLS configuration.
func (c *CertSource) Reload(cfg *tls.Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// GetConfigForClient implements tls.Config.GetConfigForClient so a
// listener can be configured once and still observe certificate
// rotations.
func (c *CertSource) GetConfigForClient(*tls.ClientHelloInfo) (*tls.Config, error) {
	return c.Config(), nil
}
