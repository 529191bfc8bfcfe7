package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"relay-api/pkg/exchange"
)

const (
	mainnetBaseURL = "https://api.bybit.com"
	testnetBaseURL = "https://api-testnet.bybit.com"

	defaultHTTPTimeout = 10 * time.Second
	defaultRecvWindow  = 5000
	defaultCategory    = "linear"

	atrPeriod        = 14
	atrInterval      = "60" // 1h candles
	atrFallbackFrac  = 0.005
	retCodeRateLimit = 10006
)

// Client coordinates signed requests against Bybit v5 REST endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	category   string
	recvWindow int
	qtySteps   map[string]float64
	httpClient *http.Client
	clock      func() time.Time
}

// ClientOption customises the Bybit client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithBaseURL overrides the API base URL (primarily for testing).
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithClock overrides the time source used for request timestamps.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithCategory sets the product category (defaults to "linear").
func WithCategory(category string) ClientOption {
	return func(c *Client) {
		if category != "" {
			c.category = category
		}
	}
}

// WithRecvWindow sets the signing receive window in milliseconds.
func WithRecvWindow(ms int) ClientOption {
	return func(c *Client) {
		if ms > 0 {
			c.recvWindow = ms
		}
	}
}

// WithQtySteps sets the per-instrument quantity step used to snap partial
// close sizes; keys are canonicalised to upper case.
func WithQtySteps(steps map[string]float64) ClientOption {
	return func(c *Client) {
		for instrument, step := range steps {
			if step <= 0 {
				continue
			}
			if c.qtySteps == nil {
				c.qtySteps = make(map[string]float64, len(steps))
			}
			c.qtySteps[strings.ToUpper(strings.TrimSpace(instrument))] = step
		}
	}
}

// NewClient constructs a Bybit trading client for the given API credentials.
func NewClient(apiKey, apiSecret string, isTestnet bool, opts ...ClientOption) (*Client, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("bybit: api key and secret are required")
	}

	client := &Client{
		baseURL:    mainnetBaseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		category:   defaultCategory,
		recvWindow: defaultRecvWindow,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		clock:      time.Now,
	}
	if isTestnet {
		client.baseURL = testnetBaseURL
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if client.clock == nil {
		client.clock = time.Now
	}
	return client, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// sign produces the v5 request signature over
// timestamp + apiKey + recvWindow + payload.
func (c *Client) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + c.apiKey + strconv.Itoa(c.recvWindow) + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) setAuthHeaders(req *http.Request, payload string) {
	timestamp := strconv.FormatInt(c.clock().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(c.recvWindow))
	req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, payload))
}

// doGet performs a GET request. Signed requests carry auth headers over the
// encoded query string.
func (c *Client) doGet(ctx context.Context, path string, query url.Values, signed bool, result interface{}) error {
	endpoint := c.baseURL + path
	encoded := query.Encode()
	if encoded != "" {
		endpoint += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("bybit: build request %s: %w", path, err)
	}
	if signed {
		c.setAuthHeaders(req, encoded)
	}
	return c.do(req, path, result)
}

// doPost performs a signed POST request with a JSON body.
func (c *Client) doPost(ctx context.Context, path string, body interface{}, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("bybit: encode request %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("bybit: build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req, string(payload))
	return c.do(req, path, result)
}

func (c *Client) do(req *http.Request, path string, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return req.Context().Err()
		}
		return fmt.Errorf("bybit: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bybit: read response %s: %w", path, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("bybit: %s: %w", path, exchange.ErrRateLimited)
		}
		return fmt.Errorf("bybit: %s http status %d: %s", path, resp.StatusCode, string(body))
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("bybit: decode response %s: %w", path, err)
		}
	}
	return nil
}

// checkRetCode maps the venue's application-level status to our error types.
func checkRetCode(path string, code int, msg string) error {
	switch {
	case code == 0:
		return nil
	case code == retCodeRateLimit:
		return fmt.Errorf("bybit: %s: %s: %w", path, msg, exchange.ErrRateLimited)
	default:
		return fmt.Errorf("bybit: %s: %w", path, &exchange.RejectedError{Code: code, Reason: msg})
	}
}

// formatQty renders a quantity without trailing zeros, as the API expects.
func formatQty(v float64) string {
	s := strconv.FormatFloat(v, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
