package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// FunctionOption configures a FunctionGateway.
type FunctionOption func(*FunctionGateway)

func WithHTTPClient(c *http.Client) FunctionOption {
	return func(g *FunctionGateway) { g.httpClient = c }
}

func WithLogger(l zerolog.Logger) FunctionOption {
	return func(g *FunctionGateway) { g.logger = l }
}

// WithBreakerSettings overrides the default trip policy. Name is forced to
// "payment-functions".
func WithBreakerSettings(st gobreaker.Settings) FunctionOption {
	return func(g *FunctionGateway) { g.settings = st }
}

// FunctionGateway calls the serverless checkout functions over HTTP. Calls
// go through a circuit breaker so a provider outage fails fast instead of
// holding booking requests open.
type FunctionGateway struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	settings   gobreaker.Settings
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

func NewFunctionGateway(baseURL string, timeout time.Duration, opts ...FunctionOption) *FunctionGateway {
	g := &FunctionGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     zerolog.Nop(),
		settings: gobreaker.Settings{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
	for _, o := range opts {
		o(g)
	}
	g.settings.Name = "payment-functions"
	logger := g.logger
	g.settings.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
	}
	g.breaker = gobreaker.NewCircuitBreaker[[]byte](g.settings)
	return g
}

// statusError is a non-2xx answer from a function. 4xx answers do not count
// toward tripping the breaker.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("payment function returned %d: %s", e.code, e.body)
}

func (g *FunctionGateway) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	if req.Currency == "" {
		req.Currency = "usd"
	}
	body, err := g.call(ctx, "create-checkout-session", req)
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("decode checkout session: missing session_id")
	}
	if s.Status == "" {
		s.Status = SessionOpen
	}
	if s.AmountMinor == 0 {
		s.AmountMinor = req.AmountMinor
	}
	return &s, nil
}

func (g *FunctionGateway) VerifySession(ctx context.Context, sessionID string) (SessionStatus, error) {
	body, err := g.call(ctx, "verify-payment", map[string]string{"session_id": sessionID})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return "", ErrSessionNotFound
		}
		return "", err
	}
	var out struct {
		Status SessionStatus `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode verification: %w", err)
	}
	switch out.Status {
	case SessionOpen, SessionPaid, SessionExpired:
		return out.Status, nil
	default:
		g.logger.Warn().Str("session_id", sessionID).Str("status", string(out.Status)).Msg("unknown payment status, treating as open")
		return SessionOpen, nil
	}
}

func (g *FunctionGateway) call(ctx context.Context, fn string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", fn, err)
	}

	var clientErr error
	body, err := g.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/"+fn, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, &statusError{code: resp.StatusCode, body: string(respBody)}
		}
		if resp.StatusCode >= 300 {
			// Caller mistakes are reported without penalising the breaker.
			clientErr = &statusError{code: resp.StatusCode, body: string(respBody)}
			return nil, nil
		}
		return respBody, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w", fn, ErrUnavailable)
		}
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	if clientErr != nil {
		return nil, fmt.Errorf("%s: %w", fn, clientErr)
	}
	return body, nil
}
