package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"escrowmarket/crypto"
	"escrowmarket/native/market"
	"escrowmarket/native/token"
)

const jsonRPCVersion = "2.0"

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeDuplicate      = -32010
	codeRateLimited    = -32020
	codeRejected       = -32041
	codeNotFound       = -32042
	codeUnauthorized   = -32043
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`

	status int
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s: %v", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func newError(status, code int, message string, data interface{}) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data, status: status}
}

func invalidParams(message string, err error) *RPCError {
	var data interface{}
	if err != nil {
		data = err.Error()
	}
	return newError(http.StatusBadRequest, codeInvalidParams, message, data)
}

func writeError(w http.ResponseWriter, id interface{}, rpcErr *RPCError) {
	status := rpcErr.status
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	encoded, err := json.Marshal(result)
	if err != nil {
		writeError(w, id, newError(http.StatusInternalServerError, codeServerError, "failed to encode result", err.Error()))
		return
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: encoded})
}

// ListingResult is the wire form of a listing.
type ListingResult struct {
	Address   string `json:"address"`
	Variant   string `json:"variant"`
	Seller    string `json:"seller"`
	Buyer     string `json:"buyer,omitempty"`
	ItemID    string `json:"itemId"`
	Price     string `json:"price"`
	AssetUnit string `json:"assetUnit,omitempty"`
	Vault     string `json:"vault,omitempty"`
	Rarity    string `json:"rarity,omitempty"`
	CardType  string `json:"cardType,omitempty"`
	Status    string `json:"status"`
	Bump      uint8  `json:"bump"`
}

func listingResult(l *market.Listing) ListingResult {
	out := ListingResult{
		Address:  l.Address.String(),
		Variant:  l.Variant.String(),
		Seller:   l.Seller.String(),
		ItemID:   l.ItemID,
		Price:    strconv.FormatUint(l.Price, 10),
		Rarity:   l.Rarity,
		CardType: l.CardType,
		Status:   l.Status.String(),
		Bump:     l.Bump,
	}
	if l.Buyer != nil {
		out.Buyer = l.Buyer.String()
	}
	if l.Variant == market.VariantFullEscrow {
		out.AssetUnit = l.AssetUnit.String()
		if vault, err := market.VaultAddress(l.Address, l.AssetUnit); err == nil {
			out.Vault = vault.String()
		}
	}
	return out
}

// DeriveResult reports where a listing lives.
type DeriveResult struct {
	Address string `json:"address"`
	Bump    uint8  `json:"bump"`
}

// TokenAccountResult is the wire form of a holding account.
type TokenAccountResult struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Owner   string `json:"owner"`
	Amount  string `json:"amount"`
}

func tokenAccountResult(addr crypto.Address, acc *token.Account) TokenAccountResult {
	return TokenAccountResult{
		Address: addr.String(),
		Mint:    acc.Mint.String(),
		Owner:   acc.Owner.String(),
		Amount:  strconv.FormatUint(acc.Amount, 10),
	}
}

// AddressResult wraps a single created address.
type AddressResult struct {
	Address string `json:"address"`
}
