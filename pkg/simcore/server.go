// Package simcore provides the base HTTP server, CLI flags, middleware
// chain, and response helpers for the mock server.
package simcore

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gopkg.in/yaml.v3"
)

// ErrClosed is returned when a server is started or served after Close.
var ErrClosed = errors.New("simcore: server is closed")

// Config holds the server configuration, from CLI flags and optionally
// a YAML config file. Flags win over file values.
type Config struct {
	Port     int
	Latency  time.Duration
	FailRate float64
	SeedFile string
	Verbose  bool
	Name     string // server name for logging
}

// ParseFlags parses the common CLI flags and merges in the -config
// file, if one is given. The name is used for logging.
func ParseFlags(name string) (*Config, error) {
	cfg := &Config{Name: name}
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to YAML config file")
	flag.IntVar(&cfg.Port, "port", 0, "HTTP listen port (0 = OS-assigned)")
	flag.DurationVar(&cfg.Latency, "latency", 0, "Base simulated latency")
	flag.Float64Var(&cfg.FailRate, "fail-rate", 0.0, "Random failure rate 0.0-1.0")
	flag.StringVar(&cfg.SeedFile, "seed-file", "", "Path to JSON fixture for initial state")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable request/response logging")
	flag.Parse()

	if configFile != "" {
		fileCfg, err := LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
		mergeConfig(cfg, fileCfg)
	}

	if cfg.Port == 0 {
		if p := os.Getenv("PORT"); p != "" {
			fmt.Sscanf(p, "%d", &cfg.Port)
		}
	}

	return cfg, nil
}

// fileConfig is the YAML shape of a config file. Latency is a string
// so durations can be written as "25ms".
type fileConfig struct {
	Port     int     `yaml:"port"`
	Latency  string  `yaml:"latency"`
	FailRate float64 `yaml:"fail_rate"`
	SeedFile string  `yaml:"seed_file"`
	Verbose  bool    `yaml:"verbose"`
}

// LoadConfig reads a Config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if fc.FailRate < 0 || fc.FailRate > 1 {
		return nil, fmt.Errorf("config %s: fail_rate must be between 0.0 and 1.0", path)
	}
	cfg := &Config{
		Port:     fc.Port,
		FailRate: fc.FailRate,
		SeedFile: fc.SeedFile,
		Verbose:  fc.Verbose,
	}
	if fc.Latency != "" {
		d, err := time.ParseDuration(fc.Latency)
		if err != nil {
			return nil, fmt.Errorf("config %s: invalid latency: %w", path, err)
		}
		cfg.Latency = d
	}
	return cfg, nil
}

// mergeConfig fills zero-valued fields of dst from src, so explicit
// flags keep precedence over the config file.
func mergeConfig(dst, src *Config) {
	if dst.Port == 0 {
		dst.Port = src.Port
	}
	if dst.Latency == 0 {
		dst.Latency = src.Latency
	}
	if dst.FailRate == 0 {
		dst.FailRate = src.FailRate
	}
	if dst.SeedFile == "" {
		dst.SeedFile = src.SeedFile
	}
	if !dst.Verbose {
		dst.Verbose = src.Verbose
	}
}

// Server is the base HTTP server. It wraps a chi router with common
// middleware and owns the listener lifecycle, so it can run either as
// a long-lived process (Serve) or embedded in a test suite
// (Start/Addr/Close).
type Server struct {
	Config *Config
	Router *chi.Mux
	Logger *slog.Logger
	mw     *Middleware

	mu       sync.Mutex // protects listener/closed and runtime Config updates
	listener net.Listener
	httpSrv  *http.Server
	closed   bool
}

// New creates a Server with the given config.
func New(cfg *Config) *Server {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	r := chi.NewRouter()
	mw := NewMiddleware(cfg, logger)

	// Latency and failure middleware stay mounted even when idle so a
	// runtime config update activates them immediately; both guard
	// internally on the config value.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.CORS)
	r.Use(mw.RequestLog)
	r.Use(mw.LatencyInjection)
	r.Use(mw.RandomFailure)

	return &Server{
		Config: cfg,
		Router: r,
		Logger: logger,
		mw:     mw,
	}
}

// Middleware returns the middleware instance for external access
// (fault injection, request log inspection).
func (s *Server) Middleware() *Middleware {
	return s.mw
}

// Start binds the configured port (0 picks an ephemeral one) and
// begins serving in the background. After Start returns, Addr reports
// the resolved host:port.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.listener != nil {
		return fmt.Errorf("simcore: server already started on %s", s.listener.Addr())
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Config.Port))
	if err != nil {
		return fmt.Errorf("binding port %d: %w", s.Config.Port, err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:      s.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.Logger.Error("server error", "err", err)
		}
	}()

	s.Logger.Info("server started", "name", s.Config.Name, "addr", ln.Addr().String())
	return nil
}

// Addr returns the resolved host:port, or "" before Start. A wildcard
// bind is reported as 127.0.0.1 so the result is always dialable.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	addr := s.listener.Addr().(*net.TCPAddr)
	host := addr.IP.String()
	if addr.IP.IsUnspecified() {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(addr.Port))
}

// Close releases the listening socket. It is idempotent: closing an
// already-closed or never-started server is a no-op.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.httpSrv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// Serve starts the server and blocks until an interrupt or SIGTERM,
// then shuts down gracefully. Intended for the CLI entry point;
// embedded callers use Start/Close.
func (s *Server) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	s.Logger.Info("shutting down", "name", s.Config.Name)
	return s.Close()
}

// ServeHTTP implements http.Handler so Server can be used directly
// with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// GetConfig returns the current runtime configuration as a map. This
// implements the admin.ConfigProvider interface.
func (s *Server) GetConfig() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"name":      s.Config.Name,
		"port":      s.Config.Port,
		"latency":   s.Config.Latency.String(),
		"fail_rate": s.Config.FailRate,
		"verbose":   s.Config.Verbose,
	}
}

// UpdateConfig updates runtime configuration fields from a map. Only
// latency, fail_rate, and verbose can change at runtime. All fields
// are validated before any are applied.
func (s *Server) UpdateConfig(updates map[string]any) error {
	type configUpdate struct {
		latency  *time.Duration
		failRate *float64
		verbose  *bool
	}
	var cu configUpdate

	for k, v := range updates {
		switch k {
		case "latency":
			str, ok := v.(string)
			if !ok {
				return fmt.Errorf("latency must be a duration string")
			}
			d, err := time.ParseDuration(str)
			if err != nil {
				return fmt.Errorf("invalid latency duration: %w", err)
			}
			if d < 0 {
				return fmt.Errorf("latency must not be negative")
			}
			cu.latency = &d
		case "fail_rate":
			f, ok := v.(float64)
			if !ok {
				return fmt.Errorf("fail_rate must be a number")
			}
			if f < 0 || f > 1 {
				return fmt.Errorf("fail_rate must be between 0.0 and 1.0")
			}
			cu.failRate = &f
		case "verbose":
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("verbose must be a boolean")
			}
			cu.verbose = &b
		case "name", "port", "seed_file":
			return fmt.Errorf("%s cannot be changed at runtime", k)
		default:
			return fmt.Errorf("unknown config key: %s", k)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cu.latency != nil {
		s.Config.Latency = *cu.latency
	}
	if cu.failRate != nil {
		s.Config.FailRate = *cu.failRate
	}
	if cu.verbose != nil {
		s.Config.Verbose = *cu.verbose
	}
	return nil
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    http.StatusText(status),
			"code":    status,
		},
	})
}

// XML writes a pre-serialized XML document with the given status code.
func XML(w http.ResponseWriter, status int, doc []byte) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	w.Write(doc)
}

// Text writes a plain text response with the given status code.
func Text(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}
