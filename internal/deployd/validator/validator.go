package validator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout = 10 * time.Second

	maxDrain = 64 * 1024
)

// DefaultProbes is used when no probe manifest is configured.
var DefaultProbes = []deploy.Probe{
	{Method: http.MethodGet, Path: "/health", Expect: []int{http.StatusOK}},
}

// Validator issues HTTP probes against a deployed base address. Every probe is bounded by
// the per-request timeout; transport failures are recorded on the test, never returned.
type Validator struct {
	client  *retryablehttp.Client
	probes  []deploy.Probe
	timeout time.Duration

	observe func(method, path string, latency time.Duration, success bool)
}

type Option func(*Validator)

func WithTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithRetries retries a probe on connection errors and 5xx responses.
func WithRetries(n int) Option {
	return func(v *Validator) {
		if n >= 0 {
			v.client.RetryMax = n
		}
	}
}

// WithProbes replaces the default probe set.
func WithProbes(probes []deploy.Probe) Option {
	return func(v *Validator) {
		if len(probes) > 0 {
			v.probes = probes
		}
	}
}

// WithObserver is called once per completed probe.
func WithObserver(fn func(method, path string, latency time.Duration, success bool)) Option {
	return func(v *Validator) {
		v.observe = fn
	}
}

func New(opts ...Option) *Validator {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = &leveledLogger{}
	// report the status of the last attempt instead of a "giving up" error
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	v := &Validator{
		client:  client,
		probes:  DefaultProbes,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(v)
	}

	client.HTTPClient.Timeout = v.timeout
	// a redirect is an observed status like any other
	client.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return v
}

func (v *Validator) Probes() []deploy.Probe {
	return v.probes
}

// Validate runs probes against baseURL in order. A nil probe set uses the configured one.
func (v *Validator) Validate(ctx context.Context, baseURL string, probes []deploy.Probe) []deploy.EndpointTest {
	if len(probes) == 0 {
		probes = v.probes
	}
	results := make([]deploy.EndpointTest, 0, len(probes))
	for _, p := range probes {
		results = append(results, v.probe(ctx, baseURL, p))
	}
	return results
}

// Run validates baseURL and summarizes the batch as a ValidationRun for target.
func (v *Validator) Run(ctx context.Context, target deploy.Target, baseURL string, probes []deploy.Probe) *deploy.ValidationRun {
	run := &deploy.ValidationRun{
		ID:        uuid.New().String(),
		Target:    target,
		BaseURL:   baseURL,
		StartedAt: time.Now(),
	}
	run.Results = v.Validate(ctx, baseURL, probes)
	run.CompletedAt = time.Now()
	run.Total = len(run.Results)
	for _, r := range run.Results {
		if r.Success {
			run.Passed++
		}
	}

	log.Info().Msgf("endpoint validation of %s: %d/%d passed", baseURL, run.Passed, run.Total)
	return run
}

func (v *Validator) probe(ctx context.Context, baseURL string, p deploy.Probe) deploy.EndpointTest {
	method := p.Method
	if method == "" {
		method = http.MethodGet
	}
	test := deploy.EndpointTest{
		Method:   method,
		Path:     p.Path,
		Expected: p.Expect,
	}

	var body interface{}
	if p.Body != "" {
		body = []byte(p.Body)
	}

	start := time.Now()
	req, err := retryablehttp.NewRequestWithContext(ctx, method, joinURL(baseURL, p.Path), body)
	if err != nil {
		test.Error = err.Error()
		return v.finish(test, start)
	}
	if p.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.client.Do(req)
	if resp != nil {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		resp.Body.Close()
	}
	if err != nil {
		test.Error = describe(err)
		return v.finish(test, start)
	}

	test.Status = resp.StatusCode
	test.Success = p.Accepts(resp.StatusCode)
	return v.finish(test, start)
}

func (v *Validator) finish(test deploy.EndpointTest, start time.Time) deploy.EndpointTest {
	latency := time.Since(start)
	test.LatencyMS = latency.Milliseconds()
	if v.observe != nil {
		v.observe(test.Method, test.Path, latency, test.Success)
	}
	return test
}

func describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
		return "timeout: " + err.Error()
	}
	return err.Error()
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// leveledLogger routes retryablehttp's logging to zerolog.
type leveledLogger struct{}

var _ retryablehttp.LeveledLogger = &leveledLogger{}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	log.Error().Fields(keysAndValues).Msg(msg)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	log.Trace().Fields(keysAndValues).Msg(msg)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	log.Warn().Fields(keysAndValues).Msg(msg)
}
