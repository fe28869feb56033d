package rpc

import (
	"context"
	"net/http"
	"strconv"

	"escrowmarket/crypto"
	"escrowmarket/native/market"
)

type marketListPayload struct {
	stamped
	Seller      string `json:"seller"`
	ItemID      string `json:"itemId"`
	Price       string `json:"price"`
	AssetUnit   string `json:"assetUnit,omitempty"`
	SellerAsset string `json:"sellerAsset,omitempty"`
	Rarity      string `json:"rarity,omitempty"`
	CardType    string `json:"cardType,omitempty"`
}

type marketBuyPayload struct {
	stamped
	Buyer         string `json:"buyer"`
	Listing       string `json:"listing"`
	BuyerPayment  string `json:"buyerPayment"`
	SellerPayment string `json:"sellerPayment"`
	BuyerAsset    string `json:"buyerAsset,omitempty"`
	Vault         string `json:"vault,omitempty"`
}

type listingQuery struct {
	Listing string `json:"listing,omitempty"`
	Seller  string `json:"seller,omitempty"`
	ItemID  string `json:"itemId,omitempty"`
}

func parseAmount(field, raw string) (uint64, *RPCError) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, invalidParams("invalid "+field, err)
	}
	return v, nil
}

func (s *Server) handleMarketList(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var payload marketListPayload
	signer, rpcErr := s.decodeSigned(req, &payload)
	if rpcErr != nil {
		return nil, rpcErr
	}
	seller, rpcErr := parseAddress("seller", payload.Seller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	price, rpcErr := parseAmount("price", payload.Price)
	if rpcErr != nil {
		return nil, rpcErr
	}
	listReq := market.ListRequest{
		Seller:   seller,
		ItemID:   payload.ItemID,
		Price:    price,
		Rarity:   payload.Rarity,
		CardType: payload.CardType,
	}
	if s.node.Variant() == market.VariantFullEscrow {
		if listReq.AssetUnit, rpcErr = parseAddress("assetUnit", payload.AssetUnit); rpcErr != nil {
			return nil, rpcErr
		}
		if listReq.SellerAsset, rpcErr = parseAddress("sellerAsset", payload.SellerAsset); rpcErr != nil {
			return nil, rpcErr
		}
	}
	listing, err := s.node.List(ctx, signer, listReq)
	if err != nil {
		return nil, mapError(err)
	}
	return listingResult(listing), nil
}

func (s *Server) handleMarketBuy(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var payload marketBuyPayload
	signer, rpcErr := s.decodeSigned(req, &payload)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var buyReq market.BuyRequest
	fields := []struct {
		name string
		raw  string
		dst  *crypto.Address
	}{
		{"buyer", payload.Buyer, &buyReq.Buyer},
		{"listing", payload.Listing, &buyReq.Listing},
		{"buyerPayment", payload.BuyerPayment, &buyReq.BuyerPayment},
		{"sellerPayment", payload.SellerPayment, &buyReq.SellerPayment},
	}
	for _, f := range fields {
		addr, rpcErr := parseAddress(f.name, f.raw)
		if rpcErr != nil {
			return nil, rpcErr
		}
		*f.dst = addr
	}
	if buyReq.BuyerAsset, rpcErr = parseOptionalAddress("buyerAsset", payload.BuyerAsset); rpcErr != nil {
		return nil, rpcErr
	}
	if buyReq.Vault, rpcErr = parseOptionalAddress("vault", payload.Vault); rpcErr != nil {
		return nil, rpcErr
	}
	if s.node.Variant() == market.VariantFullEscrow && buyReq.BuyerAsset.IsZero() {
		return nil, invalidParams("buyerAsset required for full-escrow listings", nil)
	}
	listing, err := s.node.Buy(ctx, signer, buyReq)
	if err != nil {
		return nil, mapError(err)
	}
	return listingResult(listing), nil
}

func (s *Server) handleMarketGetListing(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var query listingQuery
	if rpcErr := decodeParam(req, &query); rpcErr != nil {
		return nil, rpcErr
	}
	var addr crypto.Address
	switch {
	case query.Listing != "":
		parsed, rpcErr := parseAddress("listing", query.Listing)
		if rpcErr != nil {
			return nil, rpcErr
		}
		addr = parsed
	case query.Seller != "" && query.ItemID != "":
		seller, rpcErr := parseAddress("seller", query.Seller)
		if rpcErr != nil {
			return nil, rpcErr
		}
		derived, _, err := s.node.DeriveListing(seller, query.ItemID)
		if err != nil {
			return nil, mapError(err)
		}
		addr = derived
	default:
		return nil, invalidParams("listing or seller and itemId required", nil)
	}
	listing, err := s.node.Listing(ctx, addr)
	if err != nil {
		return nil, mapError(err)
	}
	return listingResult(listing), nil
}

func (s *Server) handleMarketDeriveListing(_ context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var query listingQuery
	if rpcErr := decodeParam(req, &query); rpcErr != nil {
		return nil, rpcErr
	}
	seller, rpcErr := parseAddress("seller", query.Seller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, bump, err := s.node.DeriveListing(seller, query.ItemID)
	if err != nil {
		rpcErr := mapError(err)
		rpcErr.status = http.StatusBadRequest
		return nil, rpcErr
	}
	return DeriveResult{Address: addr.String(), Bump: bump}, nil
}
