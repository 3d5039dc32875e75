package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"

	"github.com/MeKo-Tech/dpmscan/internal/barcode"
	"github.com/MeKo-Tech/dpmscan/internal/machine"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Classifier turns one photograph into a decode outcome.
type Classifier interface {
	Classify(ctx context.Context, name string, img image.Image) barcode.Outcome
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	registry       *machine.Registry
	classifiers    map[string]Classifier
	defaultMachine string
	corsOrigin     string
	maxUploadMB    int64
	timeoutSec     int
	rateLimiter    *RateLimiter
	logger         *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int

	// DefaultMachine is used when a request names no machine.
	DefaultMachine string
	Registry       *machine.Registry
	// Classifiers maps every registry machine name to its decode chain.
	Classifiers map[string]Classifier

	RateLimit RateLimitConfig
	Logger    *slog.Logger
}

// RateLimitConfig holds per-client limits. Zero values disable a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// CropInfo is the region of interest of a machine.
type CropInfo struct {
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
	Right  int `json:"right"`
}

// MachineInfo describes one configured machine.
type MachineInfo struct {
	Name    string   `json:"name"`
	Crop    CropInfo `json:"crop"`
	Display bool     `json:"display"`
	Default bool     `json:"default"`
}

// MachinesResponse is returned by /api/v1/machines.
type MachinesResponse struct {
	Machines []MachineInfo `json:"machines"`
	Count    int           `json:"count"`
}

// DecodeResult is the outcome of one uploaded photograph.
type DecodeResult struct {
	File       string `json:"file"`
	Machine    string `json:"machine"`
	Status     string `json:"status"`
	Data       string `json:"data"`
	DurationMs int64  `json:"duration_ms"`
}

// DecodeResponse wraps a DecodeResult or an error message.
type DecodeResponse struct {
	Success bool          `json:"success"`
	Result  *DecodeResult `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// NewServer creates a decode server instance.
func NewServer(config Config) (*Server, error) {
	if config.Registry == nil {
		return nil, errors.New("server requires a machine registry")
	}
	for _, name := range config.Registry.Names() {
		if config.Classifiers[name] == nil {
			return nil, fmt.Errorf("no classifier for machine %s", name)
		}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defaultMachine := machine.Normalize(config.DefaultMachine)
	if defaultMachine != "" {
		if _, err := config.Registry.Resolve(defaultMachine); err != nil {
			return nil, err
		}
	}

	s := &Server{
		registry:       config.Registry,
		classifiers:    config.Classifiers,
		defaultMachine: defaultMachine,
		corsOrigin:     config.CORSOrigin,
		maxUploadMB:    config.MaxUploadMB,
		timeoutSec:     config.TimeoutSec,
		logger:         logger,
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(
			config.RateLimit.RequestsPerMinute,
			config.RateLimit.RequestsPerHour,
			config.RateLimit.MaxRequestsPerDay,
			config.RateLimit.MaxDataPerDay,
		)
	}
	return s, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/api/v1/machines", s.corsMiddleware(s.machinesHandler))
	mux.HandleFunc("/api/v1/decode", s.corsMiddleware(s.rateLimitMiddleware(s.decodeHandler)))
	mux.HandleFunc("/ws/decode", s.rateLimitMiddleware(s.decodeWebSocketHandler))
	mux.Handle("/metrics", promhttp.Handler())
}
