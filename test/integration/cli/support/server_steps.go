package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/dpmscan/internal/barcode"
	"github.com/MeKo-Tech/dpmscan/internal/batch"
	"github.com/MeKo-Tech/dpmscan/internal/config"
	"github.com/MeKo-Tech/dpmscan/internal/preprocess"
	"github.com/MeKo-Tech/dpmscan/internal/server"
	"github.com/cucumber/godog"
)

// HTTPTestServerWrapper wraps an httptest.Server running the decode routes.
type HTTPTestServerWrapper struct {
	Server     *httptest.Server
	TestServer *server.Server
}

// Close stops the HTTP server.
func (w *HTTPTestServerWrapper) Close() {
	w.Server.Close()
	_ = w.TestServer.Close()
}

// newDecodeServer builds the decode server with one real decode chain per
// default machine.
func newDecodeServer(defaultMachine string) (*server.Server, error) {
	cfg := config.DefaultConfig()
	logger := slog.New(slog.DiscardHandler)
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	classifiers := make(map[string]server.Classifier, registry.Len())
	for _, profile := range registry.Profiles() {
		params, err := cfg.Params(profile.Name())
		if err != nil {
			return nil, err
		}
		pre, err := preprocess.New(profile, params, preprocess.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		backend, err := barcode.NewBackend(cfg.Decoder.Backend)
		if err != nil {
			return nil, err
		}
		dec, err := barcode.NewDecoder(backend, barcode.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		runner, err := batch.NewRunner(batch.Config{Machine: profile.Name()}, pre, dec, batch.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		classifiers[profile.Name()] = runner
	}

	return server.NewServer(server.Config{
		CORSOrigin:     "*",
		MaxUploadMB:    int64(cfg.Server.MaxUploadMB),
		TimeoutSec:     cfg.Server.TimeoutSec,
		DefaultMachine: defaultMachine,
		Registry:       registry,
		Classifiers:    classifiers,
		Logger:         logger,
	})
}

func (testCtx *TestContext) theDecodeServerIsRunningFor(defaultMachine string) error {
	srv, err := newDecodeServer(defaultMachine)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	testCtx.HTTPTestServer = &HTTPTestServerWrapper{Server: httptest.NewServer(mux), TestServer: srv}
	return nil
}

func (testCtx *TestContext) iGET(path string) error {
	if testCtx.HTTPTestServer == nil {
		return fmt.Errorf("server is not running")
	}
	resp, err := http.Get(testCtx.HTTPTestServer.Server.URL + path)
	if err != nil {
		return err
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) iUploadTo(name, path string) error {
	if testCtx.HTTPTestServer == nil {
		return fmt.Errorf("server is not running")
	}
	data, err := os.ReadFile(testCtx.path(name))
	if err != nil {
		return err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filepath.Base(name))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	resp, err := http.Post(testCtx.HTTPTestServer.Server.URL+path, writer.FormDataContentType(), &body)
	if err != nil {
		return err
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) recordResponse(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(data)
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("status is %d, want %d\nBody: %s", testCtx.LastHTTPStatusCode, code, testCtx.LastHTTPResponse)
	}
	return nil
}

// theResponseFieldShouldBe looks up a dotted path such as result.data.
func (testCtx *TestContext) theResponseFieldShouldBe(field, expected string) error {
	var doc any
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &doc); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	for _, key := range strings.Split(field, ".") {
		obj, ok := doc.(map[string]any)
		if !ok {
			return fmt.Errorf("field %s not found in %s", field, testCtx.LastHTTPResponse)
		}
		doc = obj[key]
	}
	if got := fmt.Sprint(doc); got != expected {
		return fmt.Errorf("field %s is %q, want %q", field, got, expected)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain %q\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

// RegisterServerSteps registers HTTP service steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the decode server is running for "([^"]*)"$`, testCtx.theDecodeServerIsRunningFor)
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)"$`, testCtx.iUploadTo)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseFieldShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
}
