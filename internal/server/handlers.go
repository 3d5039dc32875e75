package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/dpmscan/internal/machine"
	"github.com/MeKo-Tech/dpmscan/internal/version"
	_ "golang.org/x/image/bmp"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	s.writeJSON(w, http.StatusOK, response)
}

// machinesHandler lists the configured machines.
func (s *Server) machinesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := MachinesResponse{Machines: []MachineInfo{}}
	if s.registry != nil {
		for _, p := range s.registry.Profiles() {
			crop := p.Crop()
			response.Machines = append(response.Machines, MachineInfo{
				Name:    p.Name(),
				Crop:    CropInfo{Top: crop.Top, Bottom: crop.Bottom, Left: crop.Left, Right: crop.Right},
				Display: p.Display(),
				Default: p.Name() == s.defaultMachine,
			})
		}
	}
	response.Count = len(response.Machines)
	s.writeJSON(w, http.StatusOK, response)
}

// decodeHandler decodes one uploaded photograph on the requested machine.
func (s *Server) decodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := s.uploadLimit()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "too large") {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		}
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusInternalServerError)
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))

	// The form field wins over the query parameter.
	name := r.PostFormValue("machine")
	if name == "" {
		name = r.URL.Query().Get("machine")
	}

	ctx := r.Context()
	if s.timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
		defer cancel()
	}

	result, status, err := s.decode(ctx, "http", header.Filename, name, data)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), status)
		return
	}
	s.writeJSON(w, http.StatusOK, DecodeResponse{Success: true, Result: result})
}

// decode resolves the machine, decodes the image bytes and classifies them.
// The returned status is the HTTP status to use when err is non-nil.
func (s *Server) decode(ctx context.Context, source, file, machineName string, data []byte) (*DecodeResult, int, error) {
	profile, err := s.resolveMachine(machineName)
	if err != nil {
		decodeRequestsTotal.WithLabelValues(source, "bad_machine").Inc()
		return nil, http.StatusBadRequest, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		decodeRequestsTotal.WithLabelValues(source, "bad_image").Inc()
		return nil, http.StatusBadRequest, errors.New("invalid image format")
	}

	classifier := s.classifiers[profile.Name()]
	if classifier == nil {
		return nil, http.StatusServiceUnavailable, errors.New("decoder not initialized")
	}

	start := time.Now()
	outcome := classifier.Classify(ctx, file, img)
	duration := time.Since(start)
	if err := ctx.Err(); err != nil {
		decodeRequestsTotal.WithLabelValues(source, "timeout").Inc()
		return nil, http.StatusGatewayTimeout, errors.New("decode timed out")
	}

	decodeRequestsTotal.WithLabelValues(source, outcome.Status.String()).Inc()
	decodeDuration.WithLabelValues(source).Observe(duration.Seconds())
	if outcome.Found() {
		payloadLength.WithLabelValues(source).Observe(float64(len(outcome.Payload)))
	}

	return &DecodeResult{
		File:       file,
		Machine:    profile.Name(),
		Status:     outcome.Status.String(),
		Data:       outcome.Display(),
		DurationMs: duration.Milliseconds(),
	}, http.StatusOK, nil
}

// uploadLimit is the largest accepted image in bytes.
func (s *Server) uploadLimit() int64 {
	return s.maxUploadMB * 1024 * 1024
}

func (s *Server) resolveMachine(name string) (machine.Profile, error) {
	if strings.TrimSpace(name) == "" {
		name = s.defaultMachine
	}
	if s.registry == nil {
		return machine.Profile{}, errors.New("no machines configured")
	}
	return s.registry.Resolve(name)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log().Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, DecodeResponse{Success: false, Error: message})
}

func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}
