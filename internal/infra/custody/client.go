// Package custody is the client for the external wallet/swap service
// that holds user keys and performs the actual on-chain swaps. The
// engine only ever sees success/failure plus a transaction signature.
package custody

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"limit_go/internal/domain"

	"github.com/go-resty/resty/v2"
)

// Client implements domain.TradeExecutor and domain.WalletResolver.
type Client struct {
	baseURL    string
	httpClient *resty.Client
}

// NewClient creates a custody service client. The API key, when set, is
// sent as a bearer token.
func NewClient(baseURL, apiKey string) *Client {
	httpClient := resty.New().SetTimeout(30 * time.Second)
	if apiKey != "" {
		httpClient.SetAuthToken(apiKey)
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

type swapResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
	Error     string `json:"error"`
}

// Execute submits a swap for the user and waits for the service's
// confirmation. A non-2xx response is a transport failure; a 200 with
// success=false is a trade failure with a user-facing reason.
func (c *Client) Execute(ctx context.Context, req domain.ExecuteRequest) (*domain.ExecutionResult, error) {
	url := fmt.Sprintf("%s/v1/swaps", c.baseURL)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("swap request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("swap service returned status %d", resp.StatusCode())
	}

	var out swapResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("failed to decode swap response: %w", err)
	}

	return &domain.ExecutionResult{
		Success:      out.Success,
		TxReference:  out.Signature,
		ErrorMessage: out.Error,
	}, nil
}

type walletResponse struct {
	UserID  int64  `json:"user_id"`
	Address string `json:"address"`
}

// WalletAddress resolves the user's wallet address.
func (c *Client) WalletAddress(ctx context.Context, userID int64) (string, error) {
	url := fmt.Sprintf("%s/v1/wallets/%d", c.baseURL, userID)

	resp, err := c.httpClient.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", fmt.Errorf("wallet lookup failed: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", domain.ErrWalletNotFound
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("wallet service returned status %d", resp.StatusCode())
	}

	var out walletResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("failed to decode wallet response: %w", err)
	}
	if out.Address == "" {
		return "", domain.ErrWalletNotFound
	}
	return out.Address, nil
}
