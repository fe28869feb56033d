package rpc

import (
	"context"
	"net/http"

	"escrowmarket/storage/eventlog"
)

type tokenAccountQuery struct {
	Account string `json:"account"`
}

type createMintPayload struct {
	stamped
	Authority string `json:"authority"`
	Name      string `json:"name"`
	Decimals  uint8  `json:"decimals"`
}

type openAccountParams struct {
	Mint  string `json:"mint"`
	Owner string `json:"owner"`
}

type mintToPayload struct {
	stamped
	Mint   string `json:"mint"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type eventsQuery struct {
	Type    string `json:"type,omitempty"`
	Listing string `json:"listing,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (s *Server) handleTokenGetAccount(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var query tokenAccountQuery
	if rpcErr := decodeParam(req, &query); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddress("account", query.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	acc, err := s.node.TokenAccount(ctx, addr)
	if err != nil {
		return nil, mapError(err)
	}
	return tokenAccountResult(addr, acc), nil
}

func (s *Server) handleTokenCreateMint(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var payload createMintPayload
	signer, rpcErr := s.decodeSigned(req, &payload)
	if rpcErr != nil {
		return nil, rpcErr
	}
	authority, rpcErr := parseAddress("authority", payload.Authority)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if authority != signer {
		return nil, newError(http.StatusForbidden, codeUnauthorized, "authority must sign", authority.String())
	}
	if payload.Name == "" {
		return nil, invalidParams("name required", nil)
	}
	addr, err := s.node.CreateMint(ctx, authority, payload.Name, payload.Decimals)
	if err != nil {
		return nil, mapError(err)
	}
	return AddressResult{Address: addr.String()}, nil
}

func (s *Server) handleTokenOpenAccount(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params openAccountParams
	if rpcErr := decodeParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	mint, rpcErr := parseAddress("mint", params.Mint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress("owner", params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := s.node.OpenTokenAccount(ctx, mint, owner)
	if err != nil {
		return nil, mapError(err)
	}
	return AddressResult{Address: addr.String()}, nil
}

func (s *Server) handleTokenMintTo(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var payload mintToPayload
	signer, rpcErr := s.decodeSigned(req, &payload)
	if rpcErr != nil {
		return nil, rpcErr
	}
	mint, rpcErr := parseAddress("mint", payload.Mint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := parseAddress("to", payload.To)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", payload.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.node.MintTo(ctx, signer, mint, to, amount); err != nil {
		return nil, mapError(err)
	}
	acc, err := s.node.TokenAccount(ctx, to)
	if err != nil {
		return nil, mapError(err)
	}
	return tokenAccountResult(to, acc), nil
}

func (s *Server) handleEventsList(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	if s.events == nil {
		return nil, newError(http.StatusServiceUnavailable, codeServerError, "event log disabled", nil)
	}
	var query eventsQuery
	if len(req.Params) > 0 {
		if rpcErr := decodeParam(req, &query); rpcErr != nil {
			return nil, rpcErr
		}
	}
	entries, err := s.events.List(ctx, eventlog.Filter{Type: query.Type, Listing: query.Listing, Limit: query.Limit})
	if err != nil {
		return nil, mapError(err)
	}
	return entries, nil
}
