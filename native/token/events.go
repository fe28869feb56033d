package token

import (
	"strconv"

	"escrowmarket/core/types"
	"escrowmarket/crypto"
)

const (
	EventTypeTransfer = "token.transfer"
	EventTypeMint     = "token.mint"
)

// NewTransferEvent returns the canonical payload for a balance movement.
func NewTransferEvent(mint, from, to, authority crypto.Address, amount uint64) *types.Event {
	return &types.Event{
		Type: EventTypeTransfer,
		Attributes: map[string]string{
			"mint":      mint.String(),
			"from":      from.String(),
			"to":        to.String(),
			"authority": authority.String(),
			"amount":    strconv.FormatUint(amount, 10),
		},
	}
}

// NewMintEvent returns the canonical payload for newly issued units.
func NewMintEvent(mint, to crypto.Address, amount uint64) *types.Event {
	return &types.Event{
		Type: EventTypeMint,
		Attributes: map[string]string{
			"mint":   mint.String(),
			"to":     to.String(),
			"amount": strconv.FormatUint(amount, 10),
		},
	}
}
