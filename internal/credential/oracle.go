// Package credential validates tenant credentials against the upstream
// Outline document service.
package credential

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// Verdict is the oracle's answer for a credential.
type Verdict int

const (
	Valid Verdict = iota
	Invalid
	Unavailable
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unavailable"
	}
}

// DefaultEndpoint is the upstream credential-validation URL (spec.md §6).
const DefaultEndpoint = "https://app.getoutline.com/api/auth.info"

// DefaultTimeout bounds each validation call (spec.md §5).
const DefaultTimeout = 10 * time.Second

// Oracle validates a tenant token by invoking the upstream service.
type Oracle interface {
	Validate(ctx context.Context, token string) Verdict
}

// HTTPOracle is the production Oracle: a POST with the token as a Bearer
// credential and an empty JSON body (spec.md §4.3/§6).
type HTTPOracle struct {
	Endpoint string
	Client   *http.Client
	Timeout  time.Duration
}

// NewHTTPOracle creates an HTTPOracle with spec defaults.
func NewHTTPOracle() *HTTPOracle {
	return &HTTPOracle{
		Endpoint: DefaultEndpoint,
		Client:   http.DefaultClient,
		Timeout:  DefaultTimeout,
	}
}

func (o *HTTPOracle) Validate(ctx context.Context, token string) Verdict {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := o.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return Unavailable
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return Unavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return Valid
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Invalid
	case resp.StatusCode >= 500:
		return Unavailable
	default:
		return Unavailable
	}
}

// Static is a fixed-verdict Oracle for tests.
type Static struct {
	Verdict Verdict
}

func (s Static) Validate(ctx context.Context, token string) Verdict { return s.Verdict }

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, token string) Verdict

func (f Func) Validate(ctx context.Context, token string) Verdict { return f(ctx, token) }

var _ Oracle = (*HTTPOracle)(nil)
var _ Oracle = Static{}
var _ Oracle = Func(nil)

// ErrUnavailable is a sentinel used by callers that want to distinguish
// "could not reach the oracle" from "oracle said invalid" in wrapped errors.
var ErrUnavailable = fmt.Errorf("credential oracle unavailable")
