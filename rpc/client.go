package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"escrowmarket/crypto"
)

// Client calls a marketd JSON-RPC endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
}

// NewClient targets base, e.g. http://127.0.0.1:8080.
func NewClient(base string) *Client {
	return &Client{
		endpoint: strings.TrimRight(base, "/") + "/rpc",
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Call invokes method with a single parameter object and decodes the result
// into out. JSON-RPC failures are returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, param, out interface{}) error {
	rawParam, err := json.Marshal(param)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	body, err := json.Marshal(RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  []json.RawMessage{rawParam},
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	return json.Unmarshal(decoded.Result, out)
}

// CallSigned signs payload with key and invokes method with it.
func (c *Client) CallSigned(ctx context.Context, method string, key *crypto.PrivateKey, payload, out interface{}) error {
	params, err := Sign(key, payload)
	if err != nil {
		return err
	}
	return c.Call(ctx, method, params, out)
}

// ListPayload builds a market_list payload stamped with now.
func ListPayload(seller crypto.Address, itemID string, price uint64, assetUnit, sellerAsset *crypto.Address, rarity, cardType string, now time.Time) interface{} {
	p := marketListPayload{
		stamped:  stamp(MethodMarketList, now),
		Seller:   seller.String(),
		ItemID:   itemID,
		Price:    strconv.FormatUint(price, 10),
		Rarity:   rarity,
		CardType: cardType,
	}
	if assetUnit != nil {
		p.AssetUnit = assetUnit.String()
	}
	if sellerAsset != nil {
		p.SellerAsset = sellerAsset.String()
	}
	return p
}

// BuyPayload builds a market_buy payload stamped with now. Zero buyerAsset
// and vault are omitted.
func BuyPayload(buyer, listing, buyerPayment, sellerPayment, buyerAsset, vault crypto.Address, now time.Time) interface{} {
	p := marketBuyPayload{
		stamped:       stamp(MethodMarketBuy, now),
		Buyer:         buyer.String(),
		Listing:       listing.String(),
		BuyerPayment:  buyerPayment.String(),
		SellerPayment: sellerPayment.String(),
	}
	if !buyerAsset.IsZero() {
		p.BuyerAsset = buyerAsset.String()
	}
	if !vault.IsZero() {
		p.Vault = vault.String()
	}
	return p
}

// CreateMintPayload builds a token_createMint payload stamped with now.
func CreateMintPayload(authority crypto.Address, name string, decimals uint8, now time.Time) interface{} {
	return createMintPayload{stamped: stamp(MethodTokenCreateMint, now), Authority: authority.String(), Name: name, Decimals: decimals}
}

// MintToPayload builds a token_mintTo payload stamped with now.
func MintToPayload(mint, to crypto.Address, amount uint64, now time.Time) interface{} {
	return mintToPayload{stamped: stamp(MethodTokenMintTo, now), Mint: mint.String(), To: to.String(), Amount: strconv.FormatUint(amount, 10)}
}

// OpenAccountParams builds token_openAccount parameters.
func OpenAccountParams(mint, owner crypto.Address) interface{} {
	return openAccountParams{Mint: mint.String(), Owner: owner.String()}
}
