package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rustyeddy/autotrader/internal/backoff"
	"github.com/rustyeddy/autotrader/internal/errs"
)

type HTTPConfig struct {
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries  int           `json:"max_retries" yaml:"max_retries"`
	BaseBackoff time.Duration `json:"base_backoff" yaml:"base_backoff"`
	MaxBackoff  time.Duration `json:"max_backoff" yaml:"max_backoff"`
}

// HTTPSource pulls signals from a remote recommender:
//
//	GET {base}/signals/{symbol}?timeframe=1h
//
// The newest entry of the response's signal list wins.
type HTTPSource struct {
	cfg  HTTPConfig
	HTTP *http.Client
}

var _ Source = (*HTTPSource)(nil)

func NewHTTPSource(cfg HTTPConfig) (*HTTPSource, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, errs.Validationf("signal.http", "invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPSource{cfg: cfg, HTTP: &http.Client{Timeout: cfg.Timeout}}, nil
}

type wireSignal struct {
	Type       string   `json:"type"`
	Action     string   `json:"action"`
	Strength   float64  `json:"strength"`
	Confidence float64  `json:"confidence"`
	Timestamp  wireTime `json:"timestamp"`
}

// wireTime accepts RFC 3339 and the zone-less ISO form Python emits.
type wireTime struct{ time.Time }

func (w *wireTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			w.Time = t
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

type wireResponse struct {
	Success bool         `json:"success"`
	Symbol  string       `json:"symbol"`
	Signals []wireSignal `json:"signals"`
}

func (h *HTTPSource) GetSignal(ctx context.Context, symbol, timeframe string) (Signal, error) {
	var (
		sig Signal
		err error
	)
	for attempt := 0; ; attempt++ {
		sig, err = h.fetch(ctx, symbol, timeframe)
		if err == nil || !errs.IsTransient(err) || attempt >= h.cfg.MaxRetries {
			return sig, err
		}
		if backoff.Sleep(ctx, backoff.Exponential(h.cfg.BaseBackoff, h.cfg.MaxBackoff, attempt)) != nil {
			return sig, err
		}
	}
}

func (h *HTTPSource) fetch(ctx context.Context, symbol, timeframe string) (Signal, error) {
	const op = "signal.http"

	u := h.cfg.BaseURL + "/signals/" + url.PathEscape(symbol)
	if timeframe != "" {
		u += "?" + url.Values{"timeframe": {timeframe}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Signal{}, errs.Wrap(err, errs.KindFatal, op)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.HTTP.Do(req)
	if err != nil {
		return Signal{}, errs.Wrap(err, errs.KindTransient, op)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return HoldFor(symbol, time.Now()), nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Signal{}, errs.E(errs.KindTransient, op, statusText(resp))
	case resp.StatusCode != http.StatusOK:
		return Signal{}, errs.E(errs.KindFatal, op, statusText(resp))
	}

	var body wireResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Signal{}, errs.Wrap(fmt.Errorf("decode: %w", err), errs.KindFatal, op)
	}
	if len(body.Signals) == 0 {
		return HoldFor(symbol, time.Now()), nil
	}

	latest := body.Signals[0]
	for _, s := range body.Signals[1:] {
		if s.Timestamp.After(latest.Timestamp.Time) {
			latest = s
		}
	}
	action := latest.Action
	if action == "" {
		action = latest.Type
	}
	a, err := ParseAction(action)
	if err != nil {
		return Signal{}, err
	}

	sig := Signal{
		Symbol:      symbol,
		Action:      a,
		Confidence:  latest.Confidence,
		Strength:    latest.Strength,
		GeneratedAt: latest.Timestamp.Time,
	}
	if sig.GeneratedAt.IsZero() {
		sig.GeneratedAt = time.Now()
	}
	if err := sig.Validate(); err != nil {
		return Signal{}, err
	}
	return sig, nil
}

func statusText(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	return fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}
