package barcode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// NotFoundMessage is reported for every image whose symbol could not be read.
const NotFoundMessage = "DataMatrix out of focus or not found"

// Status classifies a decode attempt.
type Status int

const (
	StatusNotFound Status = iota
	StatusSuccess
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "decoded"
	}
	return "not_found"
}

// MarshalText renders the status for JSON and CSV reports.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Outcome is the classified result of one decode attempt. Reason is
// informational and never shown in reports.
type Outcome struct {
	Status  Status `json:"status"`
	Payload string `json:"payload,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Found reports whether a payload was decoded.
func (o Outcome) Found() bool { return o.Status == StatusSuccess }

// Display returns the payload or the not-found sentinel.
func (o Outcome) Display() string {
	if o.Found() {
		return o.Payload
	}
	return NotFoundMessage
}

// NotFound builds a not-found outcome carrying reason.
func NotFound(reason string) Outcome {
	return Outcome{Status: StatusNotFound, Reason: reason}
}

// DecoderOption configures a Decoder.
type DecoderOption func(*decoderConfig)

type decoderConfig struct {
	logger  *slog.Logger
	charset string
	opts    Options
}

// WithLogger sets the logger used for not-found warnings.
func WithLogger(l *slog.Logger) DecoderOption {
	return func(c *decoderConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCharset sets an IANA charset used for payloads that are not UTF-8.
func WithCharset(name string) DecoderOption {
	return func(c *decoderConfig) { c.charset = name }
}

// WithOptions sets the backend options.
func WithOptions(o Options) DecoderOption {
	return func(c *decoderConfig) { c.opts = o }
}

// Decoder calls a Backend once per image and classifies the result.
type Decoder struct {
	backend Backend
	logger  *slog.Logger
	opts    Options
	charset encoding.Encoding
}

// NewDecoder returns a decoder over backend.
func NewDecoder(backend Backend, opts ...DecoderOption) (*Decoder, error) {
	if backend == nil {
		return nil, ErrNoBackend
	}
	cfg := decoderConfig{logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}

	d := &Decoder{backend: backend, logger: cfg.logger, opts: cfg.opts}
	if cfg.charset != "" {
		enc, err := ianaindex.IANA.Encoding(cfg.charset)
		if err != nil {
			return nil, fmt.Errorf("unknown payload charset %q: %w", cfg.charset, err)
		}
		if enc == nil {
			return nil, fmt.Errorf("unsupported payload charset %q", cfg.charset)
		}
		d.charset = enc
		if d.opts.CharacterSet == "" {
			d.opts.CharacterSet = cfg.charset
		}
	}
	return d, nil
}

// Decode runs one attempt over roi. Every failure, including backend errors
// and undecodable payloads, is reported as not found and logged with name.
func (d *Decoder) Decode(ctx context.Context, name string, roi image.Image) Outcome {
	results, err := d.backend.Decode(ctx, roi, d.opts)
	switch {
	case err != nil && errors.Is(err, ErrNotFound):
		return d.notFound(name, "no symbol found")
	case err != nil:
		return d.notFound(name, err.Error())
	case len(results) == 0:
		return d.notFound(name, "no symbol found")
	}

	text, err := d.payloadText(results[0].Payload)
	if err != nil {
		return d.notFound(name, err.Error())
	}

	d.logger.Debug("decoded datamatrix", "file", name, "payload", text)
	return Outcome{Status: StatusSuccess, Payload: text}
}

func (d *Decoder) payloadText(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	if d.charset == nil {
		return "", errors.New("payload is not valid UTF-8")
	}
	out, err := d.charset.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("payload charset decode: %w", err)
	}
	return string(out), nil
}

func (d *Decoder) notFound(name, reason string) Outcome {
	d.logger.Warn(NotFoundMessage, "file", name, "reason", reason)
	return NotFound(reason)
}
