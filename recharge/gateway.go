package recharge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/wallet-ledger/metrics"
	"github.com/warp/wallet-ledger/wallet"
)

// DefaultGatewayTimeout bounds a single gateway lookup.
const DefaultGatewayTimeout = 10 * time.Second

const maxGatewayBody = 64 << 10

// Gateway confirms a recharge code with the payment provider and returns the
// amount that was paid for it.
type Gateway interface {
	Lookup(ctx context.Context, code string) (decimal.Decimal, error)
}

// HTTPGateway calls GET {baseURL}/{code} and expects
//
//	{"status": "ok", "money": "150000"}
//
// where money may be a JSON string or number.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

func NewHTTPGateway(baseURL string, timeout time.Duration, client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultGatewayTimeout
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		timeout: timeout,
	}
}

type lookupResponse struct {
	Status string          `json:"status"`
	Money  json.RawMessage `json:"money"`
}

// Lookup never returns a partial result: any failure is a *wallet.GatewayError
// (errors.Is ErrGatewayRejected) or, for a malformed amount, ErrInvalidAmount.
func (g *HTTPGateway) Lookup(ctx context.Context, code string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	amount, result, err := g.lookup(ctx, code)
	metrics.GatewayLatency.Observe(time.Since(start).Seconds())
	metrics.GatewayRequests.WithLabelValues(result).Inc()
	return amount, err
}

func (g *HTTPGateway) lookup(ctx context.Context, code string) (decimal.Decimal, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/"+url.PathEscape(code), nil)
	if err != nil {
		return decimal.Zero, "error", &wallet.GatewayError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		result := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
		return decimal.Zero, result, &wallet.GatewayError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBody))
	if err != nil {
		return decimal.Zero, "error", &wallet.GatewayError{HTTPStatus: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decimal.Zero, "rejected", &wallet.GatewayError{HTTPStatus: resp.StatusCode}
	}

	var payload lookupResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, "error", &wallet.GatewayError{
			HTTPStatus: resp.StatusCode,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	if payload.Status != "ok" {
		return decimal.Zero, "rejected", &wallet.GatewayError{HTTPStatus: resp.StatusCode, Status: payload.Status}
	}

	amount, err := parseMoney(payload.Money)
	if err != nil {
		return decimal.Zero, "invalid_amount", err
	}
	return amount, "ok", nil
}

// parseMoney accepts "150000", "150000.50" or 150000 and rejects anything
// that is not a positive amount with at most two decimal places.
func parseMoney(raw json.RawMessage) (decimal.Decimal, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return decimal.Zero, fmt.Errorf("%w: gateway returned no money field", wallet.ErrInvalidAmount)
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s", wallet.ErrInvalidAmount, text)
		}
		text = s
	}
	return wallet.ParseAmount(text)
}
