package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultChainConcurrency = 4

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// TradierProvider reads option chains from the Tradier market-data API.
type TradierProvider struct {
	client      *http.Client
	logger      logrus.FieldLogger
	apiKey      string
	baseURL     string
	concurrency int
}

// Ensure TradierProvider implements Provider at compile time.
var _ Provider = (*TradierProvider)(nil)

// NewTradierProvider creates a provider. An empty baseURL selects the sandbox or
// production endpoint.
func NewTradierProvider(apiKey, baseURL string, sandbox bool, logger logrus.FieldLogger) *TradierProvider {
	if baseURL == "" {
		if sandbox {
			baseURL = "https://sandbox.tradier.com/v1"
		} else {
			baseURL = "https://api.tradier.com/v1"
		}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TradierProvider{
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		concurrency: defaultChainConcurrency,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (p *TradierProvider) WithHTTPClient(c *http.Client) *TradierProvider {
	if c != nil {
		p.client = c
	}
	return p
}

// WithConcurrency bounds the number of per-expiration chain requests in flight.
func (p *TradierProvider) WithConcurrency(n int) *TradierProvider {
	if n > 0 {
		p.concurrency = n
	}
	return p
}

type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

// expirationsResponse represents the expirations response from the Tradier API.
type expirationsResponse struct {
	Expirations *struct {
		Date singleOrArray[string] `json:"date"`
	} `json:"expirations"`
}

// chainResponse represents the API response for option chain requests.
type chainResponse struct {
	Options *struct {
		Option singleOrArray[tradierOption] `json:"option"`
	} `json:"options"`
}

type tradierOption struct {
	Symbol         string  `json:"symbol"`
	OptionType     string  `json:"option_type"`
	ExpirationDate string  `json:"expiration_date"`
	Underlying     string  `json:"underlying"`
	RootSymbol     string  `json:"root_symbol"`
	Strike         float64 `json:"strike"`
}

// Expirations lists expiration dates for underlying across all roots.
func (p *TradierProvider) Expirations(ctx context.Context, underlying string) ([]time.Time, error) {
	params := url.Values{}
	params.Set("symbol", underlying)
	params.Set("includeAllRoots", "true")

	var resp expirationsResponse
	if err := p.get(ctx, "/markets/options/expirations", params, &resp); err != nil {
		return nil, fmt.Errorf("fetching expirations for %s: %w", underlying, err)
	}
	if resp.Expirations == nil {
		return nil, nil
	}

	out := make([]time.Time, 0, len(resp.Expirations.Date))
	for _, d := range resp.Expirations.Date {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, fmt.Errorf("parsing expiration %q: %w", d, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// OptionChain fetches every expiration on or after at and merges the chains.
func (p *TradierProvider) OptionChain(ctx context.Context, underlying string, at time.Time) ([]models.Symbol, error) {
	expirations, err := p.Expirations(ctx, underlying)
	if err != nil {
		return nil, err
	}

	day := models.DateOf(at)
	var wanted []time.Time
	for _, e := range expirations {
		if !e.Before(day) {
			wanted = append(wanted, e)
		}
	}
	if len(wanted) == 0 {
		return nil, ErrNoChain
	}

	results := make([][]models.Symbol, len(wanted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, exp := range wanted {
		i, exp := i, exp
		g.Go(func() error {
			contracts, err := p.chainFor(gctx, underlying, exp)
			if err != nil {
				return err
			}
			results[i] = contracts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []models.Symbol
	for _, r := range results {
		all = append(all, r...)
	}
	sortContracts(all)

	p.logger.WithFields(logrus.Fields{
		"underlying":  underlying,
		"expirations": len(wanted),
		"contracts":   len(all),
	}).Debug("Fetched option chain")
	return all, nil
}

func (p *TradierProvider) chainFor(ctx context.Context, underlying string, expiration time.Time) ([]models.Symbol, error) {
	params := url.Values{}
	params.Set("symbol", underlying)
	params.Set("expiration", expiration.Format("2006-01-02"))
	params.Set("greeks", "false")

	var resp chainResponse
	if err := p.get(ctx, "/markets/options/chains", params, &resp); err != nil {
		return nil, fmt.Errorf("fetching %s chain for %s: %w", underlying, expiration.Format("2006-01-02"), err)
	}
	if resp.Options == nil {
		return nil, nil
	}

	out := make([]models.Symbol, 0, len(resp.Options.Option))
	for _, o := range resp.Options.Option {
		sym, err := o.toSymbol()
		if err != nil {
			p.logger.WithError(err).WithField("symbol", o.Symbol).Warn("Skipping unparseable contract")
			continue
		}
		out = append(out, sym)
	}
	return out, nil
}

func (o tradierOption) toSymbol() (models.Symbol, error) {
	if o.Symbol != "" {
		return models.ParseOCC(o.Symbol)
	}
	exp, err := time.Parse("2006-01-02", o.ExpirationDate)
	if err != nil {
		return models.Symbol{}, fmt.Errorf("expiration %q: %w", o.ExpirationDate, err)
	}
	root := o.RootSymbol
	if root == "" {
		root = o.Underlying
	}
	right := models.OptionRightCall
	if strings.EqualFold(o.OptionType, "put") {
		right = models.OptionRightPut
	}
	return models.NewOptionSymbol(root, right, models.StyleForRoot(root), o.Strike, exp), nil
}

func (p *TradierProvider) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := p.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+p.apiKey)
	req.Header.Add("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			p.logger.WithError(err).Warn("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: "GET " + path + " -> failed to read error body"}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> %s", path, string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return err
	}
	return nil
}
