package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ───────── On-chain transfer providers ─────────

// Indexing API endpoints per network.
const (
	basescanAPI    = "https://api.basescan.org/api"
	polygonscanAPI = "https://api.polygonscan.com/api"
	arbiscanAPI    = "https://api.arbiscan.io/api"
	heliusAPI      = "https://api.helius.xyz"
)

const solanaUSDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// Transfer is one incoming stablecoin transfer, amount already in USD
// (6-decimal USDC).
type Transfer struct {
	TxHash    string
	From      string
	To        string
	AmountUSD float64
	Timestamp time.Time
}

// TransferProvider fetches incoming transfer history for one network. The
// engine trusts the provider's response; there is no chain-level
// verification here.
type TransferProvider interface {
	Network() string
	IncomingTransfers(ctx context.Context, address string) ([]Transfer, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Etherscan-family provider (EVM networks)
// ─────────────────────────────────────────────────────────────────────────────

// EtherscanProvider queries a tokentx endpoint for ERC-20 transfers of one
// token contract to an address.
type EtherscanProvider struct {
	network   string
	apiURL    string
	contract  string
	apiKey    string
	userAgent string
	client    *http.Client
}

func NewEtherscanProvider(network, apiURL, contract, apiKey, userAgent string) *EtherscanProvider {
	if userAgent == "" {
		userAgent = "x402sync/1.0"
	}
	return &EtherscanProvider{
		network:   network,
		apiURL:    apiURL,
		contract:  contract,
		apiKey:    apiKey,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *EtherscanProvider) Network() string { return p.network }

func (p *EtherscanProvider) IncomingTransfers(ctx context.Context, address string) ([]Transfer, error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "tokentx")
	q.Set("contractaddress", p.contract)
	q.Set("address", address)
	q.Set("startblock", "0")
	q.Set("endblock", "99999999")
	q.Set("sort", "desc")
	q.Set("apikey", p.apiKey)

	body, err := doProviderGET(ctx, p.client, p.apiURL+"?"+q.Encode(), p.userAgent)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Status string `json:"status"`
		Result []struct {
			Hash      string `json:"hash"`
			From      string `json:"from"`
			To        string `json:"to"`
			Value     string `json:"value"`
			TimeStamp string `json:"timeStamp"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%s tokentx parse: %w", p.network, err)
	}
	if payload.Status != "1" {
		// "0" covers both errors and empty result sets.
		return nil, nil
	}

	out := make([]Transfer, 0, len(payload.Result))
	for _, tx := range payload.Result {
		if !strings.EqualFold(tx.To, address) {
			continue
		}
		value, err := strconv.ParseInt(tx.Value, 10, 64)
		if err != nil {
			continue
		}
		ts, _ := strconv.ParseInt(tx.TimeStamp, 10, 64)
		out = append(out, Transfer{
			TxHash:    tx.Hash,
			From:      tx.From,
			To:        tx.To,
			AmountUSD: float64(value) / 1_000_000,
			Timestamp: time.Unix(ts, 0).UTC(),
		})
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helius provider (solana)
// ─────────────────────────────────────────────────────────────────────────────

// HeliusProvider queries the Helius enhanced-transactions API for USDC
// transfers to a solana address.
type HeliusProvider struct {
	baseURL   string
	apiKey    string
	userAgent string
	client    *http.Client
}

func NewHeliusProvider(baseURL, apiKey, userAgent string) *HeliusProvider {
	if baseURL == "" {
		baseURL = heliusAPI
	}
	if userAgent == "" {
		userAgent = "x402sync/1.0"
	}
	return &HeliusProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HeliusProvider) Network() string { return "solana" }

func (p *HeliusProvider) IncomingTransfers(ctx context.Context, address string) ([]Transfer, error) {
	u := p.baseURL + "/v0/addresses/" + url.PathEscape(address) + "/transactions?api-key=" +
		url.QueryEscape(p.apiKey) + "&type=TRANSFER"

	body, err := doProviderGET(ctx, p.client, u, p.userAgent)
	if err != nil {
		return nil, err
	}

	var txs []struct {
		Signature      string `json:"signature"`
		Type           string `json:"type"`
		Timestamp      int64  `json:"timestamp"`
		TokenTransfers []struct {
			FromUserAccount string  `json:"fromUserAccount"`
			ToUserAccount   string  `json:"toUserAccount"`
			Mint            string  `json:"mint"`
			TokenAmount     float64 `json:"tokenAmount"`
		} `json:"tokenTransfers"`
	}
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, fmt.Errorf("helius transactions parse: %w", err)
	}

	var out []Transfer
	for _, tx := range txs {
		if tx.Type != "TRANSFER" {
			continue
		}
		for _, tr := range tx.TokenTransfers {
			if !strings.Contains(strings.ToUpper(tr.Mint), "USDC") && tr.Mint != solanaUSDCMint {
				continue
			}
			if tr.ToUserAccount != address {
				continue
			}
			out = append(out, Transfer{
				TxHash:    tx.Signature,
				From:      tr.FromUserAccount,
				To:        tr.ToUserAccount,
				AmountUSD: tr.TokenAmount,
				Timestamp: time.Unix(tx.Timestamp, 0).UTC(),
			})
		}
	}
	return out, nil
}

func doProviderGET(ctx context.Context, client *http.Client, u, userAgent string) ([]byte, error) {
	ctxReq, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxReq, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return b, nil
}

// buildProviders wires one provider per network from the configured API
// keys. A network with no credentials gets no provider; the reconciler then
// skips that network only. Basescan keeps the documented free-tier fallback
// key.
func buildProviders(cfg config) []TransferProvider {
	var out []TransferProvider

	basescanKey := cfg.basescanKey
	if basescanKey == "" {
		basescanKey = "YourApiKeyToken" // free tier, heavily rate limited
	}
	out = append(out, NewEtherscanProvider("base", basescanAPI, usdcAssets["base"], basescanKey, cfg.userAgent))

	if cfg.polygonscanKey != "" {
		out = append(out, NewEtherscanProvider("polygon", polygonscanAPI, usdcAssets["polygon"], cfg.polygonscanKey, cfg.userAgent))
	}
	if cfg.arbiscanKey != "" {
		out = append(out, NewEtherscanProvider("arbitrum", arbiscanAPI, usdcAssets["arbitrum"], cfg.arbiscanKey, cfg.userAgent))
	}
	if cfg.heliusKey != "" {
		out = append(out, NewHeliusProvider(heliusAPI, cfg.heliusKey, cfg.userAgent))
	}
	return out
}
