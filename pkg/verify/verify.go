// Package verify publishes module source to a block explorer. Verification
// never fails a deployment: a false result is recorded and the run goes on.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/martin-labs/diamondctl/pkg/diamond"
)

// Request identifies the deployment to verify.
type Request struct {
	Name            string
	Address         diamond.Address
	SourceName      string
	Source          string
	CompilerVersion string
	OptimizerRuns   int
	// ConstructorArgs is the hex encoding of the constructor arguments,
	// with or without 0x.
	ConstructorArgs string
}

// Verifier reports whether the deployment is verified after the call.
type Verifier interface {
	Verify(ctx context.Context, req Request) bool
}

// Noop never verifies. It serves non-live networks and runs without an API
// key.
type Noop struct{}

func (Noop) Verify(context.Context, Request) bool { return false }

// HTTPVerifier talks to an Etherscan-compatible API.
type HTTPVerifier struct {
	endpoint string
	apiKey   string
	client   *retryClient
	poll     *rate.Limiter
	maxPolls int
	logger   *slog.Logger
}

// Option configures an HTTPVerifier.
type Option func(*HTTPVerifier)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(v *HTTPVerifier) { v.client.client = hc }
}

// WithPolling sets the status poll rate and the number of polls before
// giving up.
func WithPolling(every time.Duration, maxPolls int) Option {
	return func(v *HTTPVerifier) {
		v.poll = rate.NewLimiter(rate.Every(every), 1)
		v.maxPolls = maxPolls
	}
}

// WithRetryDelay sets the base backoff between failed HTTP attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(v *HTTPVerifier) { v.client.baseDelay = d }
}

// NewHTTPVerifier creates a verifier for the explorer API at endpoint.
func NewHTTPVerifier(endpoint, apiKey string, opts ...Option) *HTTPVerifier {
	v := &HTTPVerifier{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   newRetryClient(nil),
		poll:     rate.NewLimiter(rate.Every(5*time.Second), 1),
		maxPolls: 12,
		logger:   slog.Default().With("component", "verify"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// New returns an HTTPVerifier when the network is live and a key is set, and
// Noop otherwise.
func New(live bool, endpoint, apiKey string, opts ...Option) Verifier {
	if !live || apiKey == "" || endpoint == "" {
		return Noop{}
	}
	return NewHTTPVerifier(endpoint, apiKey, opts...)
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

func alreadyVerified(s string) bool {
	return strings.Contains(strings.ToLower(s), "already verified")
}

// Verify submits the source and polls until the explorer reports a result.
// A module the explorer already knows counts as verified.
func (v *HTTPVerifier) Verify(ctx context.Context, req Request) bool {
	logger := v.logger.With("module", req.Name, "address", req.Address)
	logger.InfoContext(ctx, "verification started")

	guid, done, err := v.submit(ctx, req)
	if err != nil {
		logger.WarnContext(ctx, "verification failed", "error", err)
		return false
	}
	if done {
		logger.InfoContext(ctx, "already verified")
		return true
	}

	for i := 0; i < v.maxPolls; i++ {
		if err := v.poll.Wait(ctx); err != nil {
			logger.WarnContext(ctx, "verification abandoned", "error", err)
			return false
		}
		resp, err := v.call(ctx, http.MethodGet, url.Values{
			"module": {"contract"},
			"action": {"checkverifystatus"},
			"guid":   {guid},
		})
		if err != nil {
			logger.WarnContext(ctx, "verification status failed", "error", err)
			return false
		}
		switch {
		case resp.Status == "1" || alreadyVerified(resp.Result):
			logger.InfoContext(ctx, "verified", "result", resp.Result)
			return true
		case strings.Contains(strings.ToLower(resp.Result), "pending"):
			continue
		default:
			logger.WarnContext(ctx, "verification rejected", "result", resp.Result)
			return false
		}
	}
	logger.WarnContext(ctx, "verification still pending, giving up", "polls", v.maxPolls)
	return false
}

func (v *HTTPVerifier) submit(ctx context.Context, req Request) (guid string, done bool, err error) {
	form := url.Values{
		"module":                {"contract"},
		"action":                {"verifysourcecode"},
		"contractaddress":       {string(req.Address)},
		"sourceCode":            {req.Source},
		"codeformat":            {"solidity-standard-json-input"},
		"contractname":          {req.SourceName + ":" + req.Name},
		"compilerversion":       {req.CompilerVersion},
		"optimizationUsed":      {boolFlag(req.OptimizerRuns > 0)},
		"runs":                  {strconv.Itoa(req.OptimizerRuns)},
		"constructorArguements": {strings.TrimPrefix(req.ConstructorArgs, "0x")},
	}
	resp, err := v.call(ctx, http.MethodPost, form)
	if err != nil {
		return "", false, err
	}
	if alreadyVerified(resp.Result) {
		return "", true, nil
	}
	if resp.Status != "1" {
		return "", false, fmt.Errorf("submit rejected: %s: %s", resp.Message, resp.Result)
	}
	return resp.Result, false, nil
}

func (v *HTTPVerifier) call(ctx context.Context, method string, params url.Values) (apiResponse, error) {
	params.Set("apikey", v.apiKey)
	httpResp, err := v.client.do(ctx, func(ctx context.Context) (*http.Request, error) {
		if method == http.MethodGet {
			return http.NewRequestWithContext(ctx, method, v.endpoint+"?"+params.Encode(), nil)
		}
		r, err := http.NewRequestWithContext(ctx, method, v.endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return r, nil
	})
	if err != nil {
		return apiResponse{}, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return apiResponse{}, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return apiResponse{}, fmt.Errorf("explorer returned %s", httpResp.Status)
	}
	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return apiResponse{}, fmt.Errorf("decode explorer response: %w", err)
	}
	return out, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
