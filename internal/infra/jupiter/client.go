// Package jupiter talks to the Jupiter aggregator HTTP APIs: token
// prices against SOL and token metadata by mint address.
package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"limit_go/internal/domain"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// WrappedSOLMint is the mint address prices are quoted against.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// Client implements domain.PriceOracle and domain.TokenRegistry over
// the Jupiter price and token APIs.
type Client struct {
	priceAPIURL string
	tokenAPIURL string
	httpClient  *resty.Client

	mu     sync.RWMutex
	tokens map[string]*domain.Token // metadata cache keyed by mint
}

// NewClient creates a Jupiter API client with bounded timeouts.
func NewClient(priceAPIURL, tokenAPIURL string) *Client {
	return &Client{
		priceAPIURL: priceAPIURL,
		tokenAPIURL: tokenAPIURL,
		httpClient:  resty.New().SetTimeout(10 * time.Second),
		tokens:      make(map[string]*domain.Token),
	}
}

type priceEntry struct {
	ID            string  `json:"id"`
	MintSymbol    string  `json:"mintSymbol"`
	VsToken       string  `json:"vsToken"`
	VsTokenSymbol string  `json:"vsTokenSymbol"`
	Price         float64 `json:"price"`
}

type priceResponse struct {
	Data map[string]priceEntry `json:"data"`
}

// GetPrice returns the token's current price in SOL.
func (c *Client) GetPrice(ctx context.Context, tokenAddress string) (decimal.Decimal, error) {
	if tokenAddress == WrappedSOLMint {
		return decimal.NewFromInt(1), nil
	}

	url := fmt.Sprintf("%s/price", c.priceAPIURL)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("ids", tokenAddress).
		SetQueryParam("vsToken", WrappedSOLMint).
		Get(url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: unexpected status code %d", domain.ErrPriceUnavailable, resp.StatusCode())
	}

	var out priceResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return decimal.Zero, fmt.Errorf("%w: failed to decode response: %v", domain.ErrPriceUnavailable, err)
	}

	entry, ok := out.Data[tokenAddress]
	if !ok || entry.Price <= 0 {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", domain.ErrPriceUnavailable, tokenAddress)
	}

	return decimal.NewFromFloat(entry.Price), nil
}

// GetToken resolves token metadata, serving repeated lookups from an
// in-memory cache.
func (c *Client) GetToken(ctx context.Context, tokenAddress string) (*domain.Token, error) {
	c.mu.RLock()
	cached, ok := c.tokens[tokenAddress]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	url := fmt.Sprintf("%s/token/%s", c.tokenAPIURL, tokenAddress)

	resp, err := c.httpClient.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch token metadata: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("unknown token mint: %s", tokenAddress)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("token API returned status %d", resp.StatusCode())
	}

	var token domain.Token
	if err := json.Unmarshal(resp.Body(), &token); err != nil {
		return nil, fmt.Errorf("failed to decode token metadata: %w", err)
	}
	if token.Address == "" {
		token.Address = tokenAddress
	}

	c.mu.Lock()
	c.tokens[tokenAddress] = &token
	c.mu.Unlock()

	return &token, nil
}
