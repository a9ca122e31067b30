// Package hyperliquid implements fetcher.Upstream for Hyperliquid. The native
// HYPE balance and the activity marker come from the HyperEVM JSON-RPC node;
// the USDC perp account value comes from the L1 /info API.
package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/fetcher"
	transporthttp "github.com/gabapcia/addresswatch/internal/pkg/transport/http"
	"github.com/gabapcia/addresswatch/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/addresswatch/internal/pkg/types"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
)

// hypeDecimals is the number of decimals of the HyperEVM native token.
const hypeDecimals = 18

type (
	// infoRequest is the body of an L1 /info query.
	infoRequest struct {
		Type string `json:"type"`
		User string `json:"user"`
	}

	// marginSummary is the account summary block of a clearinghouse state.
	marginSummary struct {
		AccountValue    decimal.Decimal `json:"accountValue"`
		TotalNtlPos     decimal.Decimal `json:"totalNtlPos"`
		TotalRawUsd     decimal.Decimal `json:"totalRawUsd"`
		TotalMarginUsed decimal.Decimal `json:"totalMarginUsed"`
	}

	// ClearinghouseStateResponse is the L1 perp account state of a user.
	ClearinghouseStateResponse struct {
		MarginSummary      marginSummary   `json:"marginSummary"`
		CrossMarginSummary marginSummary   `json:"crossMarginSummary"`
		Withdrawable       decimal.Decimal `json:"withdrawable"`
		Time               int64           `json:"time"`
	}
)

// client talks to a HyperEVM node and the Hyperliquid L1 API.
type client struct {
	conn       jsonrpc.Client        // HyperEVM JSON-RPC connection
	httpClient *retryablehttp.Client // used for the L1 /info endpoint
	infoURL    string                // full URL of the L1 /info endpoint
}

// Ensure client implements the fetcher.Upstream interface at compile time.
var _ fetcher.Upstream = (*client)(nil)

// NewClient builds a Hyperliquid upstream. apiURL is the L1 API base URL,
// e.g. https://api.hyperliquid.xyz.
func NewClient(conn jsonrpc.Client, httpClient *retryablehttp.Client, apiURL string) *client {
	return &client{
		conn:       conn,
		httpClient: httpClient,
		infoURL:    strings.TrimRight(apiURL, "/") + "/info",
	}
}

func (c *client) fetchHex(ctx context.Context, method string, params ...any) (types.Hex, error) {
	data, err := c.conn.Fetch(ctx, method, params...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}

	var v types.Hex
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("%s: decode result: %w", method, err)
	}

	return v, nil
}

// getNativeBalance returns the HYPE balance in whole tokens.
func (c *client) getNativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	wei, err := c.fetchHex(ctx, "eth_getBalance", address, "latest")
	if err != nil {
		return decimal.Decimal{}, err
	}

	return wei.Decimal(hypeDecimals), nil
}

// getTransactionCount returns the address nonce, used as activity marker.
func (c *client) getTransactionCount(ctx context.Context, address string) (uint64, error) {
	nonce, err := c.fetchHex(ctx, "eth_getTransactionCount", address, "latest")
	if err != nil {
		return 0, err
	}

	return nonce.Uint64()
}

// getBlockNumber returns the current chain head.
func (c *client) getBlockNumber(ctx context.Context) (uint64, error) {
	head, err := c.fetchHex(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}

	return head.Uint64()
}

// getClearinghouseState queries the L1 perp account of address.
func (c *client) getClearinghouseState(ctx context.Context, address string) (ClearinghouseStateResponse, error) {
	var state ClearinghouseStateResponse
	err := transporthttp.PostJSON(ctx, c.httpClient, c.infoURL, http.Header{},
		infoRequest{Type: "clearinghouseState", User: address}, &state)
	if err != nil {
		return ClearinghouseStateResponse{}, fmt.Errorf("clearinghouseState: %w", err)
	}

	return state, nil
}

// GetAddressState implements fetcher.Upstream. The chain head is read first
// so BlockNumber never claims more than the balances reflect.
func (c *client) GetAddressState(ctx context.Context, address string) (fetcher.RawState, error) {
	blockNumber, err := c.getBlockNumber(ctx)
	if err != nil {
		return fetcher.RawState{}, err
	}

	native, err := c.getNativeBalance(ctx, address)
	if err != nil {
		return fetcher.RawState{}, err
	}

	nonce, err := c.getTransactionCount(ctx, address)
	if err != nil {
		return fetcher.RawState{}, err
	}

	perp, err := c.getClearinghouseState(ctx, address)
	if err != nil {
		return fetcher.RawState{}, err
	}

	return fetcher.RawState{
		Balances: map[addrstate.Asset]decimal.Decimal{
			addrstate.AssetHYPE: native,
			addrstate.AssetUSDC: perp.MarginSummary.AccountValue,
		},
		Nonce:       nonce,
		BlockNumber: blockNumber,
	}, nil
}
