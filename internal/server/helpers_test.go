package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/MeKo-Tech/dpmscan/internal/barcode"
	"github.com/MeKo-Tech/dpmscan/internal/machine"
)

// mockClassifier decodes images whose name starts with "ok" and records
// what it was asked to classify.
type mockClassifier struct {
	mu    sync.Mutex
	names []string
}

func (m *mockClassifier) Classify(_ context.Context, name string, _ image.Image) barcode.Outcome {
	m.mu.Lock()
	m.names = append(m.names, name)
	m.mu.Unlock()
	if strings.HasPrefix(name, "ok") {
		return barcode.Outcome{Status: barcode.StatusSuccess, Payload: "PAYLOAD-" + name}
	}
	return barcode.NotFound("no symbol")
}

func (m *mockClassifier) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.names)
}

// newTestServer builds a server over the built-in machines, all sharing cls.
func newTestServer(cls Classifier, rate RateLimitConfig) (*Server, error) {
	reg := machine.DefaultRegistry()
	classifiers := make(map[string]Classifier, reg.Len())
	for _, name := range reg.Names() {
		classifiers[name] = cls
	}
	return NewServer(Config{
		CORSOrigin:     "*",
		MaxUploadMB:    1,
		TimeoutSec:     5,
		DefaultMachine: machine.Machine1,
		Registry:       reg,
		Classifiers:    classifiers,
		RateLimit:      rate,
		Logger:         slog.New(slog.DiscardHandler),
	})
}

// createTestImage creates a small solid test image.
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{200, 200, 200, 255})
		}
	}
	return img
}

func encodeImageToPNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// createMultipartFormRequest builds a POST with the file under fieldName
// and any extra form fields.
func createMultipartFormRequest(target, fieldName, filename string, content []byte, fields map[string]string) (*http.Request, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if fieldName != "" {
		part, err := writer.CreateFormFile(fieldName, filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(content); err != nil {
			return nil, err
		}
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}
