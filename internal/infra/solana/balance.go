// Package solana reads on-chain SPL token balances over JSON-RPC.
package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"limit_go/internal/domain"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// BalanceProvider implements domain.BalanceProvider by summing the
// user's token accounts for a mint via getTokenAccountsByOwner.
type BalanceProvider struct {
	rpcURL     string
	httpClient *resty.Client
	wallets    domain.WalletResolver
}

// NewBalanceProvider creates a balance provider against the given RPC
// endpoint. Wallet addresses are resolved through the custody service.
func NewBalanceProvider(rpcURL string, wallets domain.WalletResolver) *BalanceProvider {
	return &BalanceProvider{
		rpcURL:     rpcURL,
		httpClient: resty.New().SetTimeout(10 * time.Second),
		wallets:    wallets,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type tokenAccountsResponse struct {
	Result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								Amount         string  `json:"amount"`
								Decimals       int     `json:"decimals"`
								UIAmountString string  `json:"uiAmountString"`
								UIAmount       float64 `json:"uiAmount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetBalance returns the user's total balance of the token across all
// of their token accounts. A user without a wallet holds zero.
func (p *BalanceProvider) GetBalance(ctx context.Context, userID int64, tokenAddress string) (decimal.Decimal, error) {
	address, err := p.wallets.WalletAddress(ctx, userID)
	if errors.Is(err, domain.ErrWalletNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTokenAccountsByOwner",
		Params: []interface{}{
			address,
			map[string]string{"mint": tokenAddress},
			map[string]string{"encoding": "jsonParsed"},
		},
	}

	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(p.rpcURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rpc request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rpc returned status %d", resp.StatusCode())
	}

	var out tokenAccountsResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if out.Error != nil {
		return decimal.Zero, fmt.Errorf("rpc error %d: %s", out.Error.Code, out.Error.Message)
	}

	total := decimal.Zero
	for _, v := range out.Result.Value {
		ta := v.Account.Data.Parsed.Info.TokenAmount
		if ta.UIAmountString != "" {
			amount, err := decimal.NewFromString(ta.UIAmountString)
			if err != nil {
				return decimal.Zero, fmt.Errorf("bad token amount %q: %w", ta.UIAmountString, err)
			}
			total = total.Add(amount)
			continue
		}
		// Some RPC providers omit uiAmountString; fall back to raw amount
		raw, err := decimal.NewFromString(ta.Amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("bad raw amount %q: %w", ta.Amount, err)
		}
		total = total.Add(raw.Shift(int32(-ta.Decimals)))
	}

	return total, nil
}
