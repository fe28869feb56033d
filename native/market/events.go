package market

import (
	"strconv"

	"escrowmarket/core/types"
)

const (
	EventTypeListed = "market.listed"
	EventTypeBought = "market.bought"
)

// NewListedEvent describes a freshly opened listing.
func NewListedEvent(l *Listing) *types.Event {
	return &types.Event{
		Type: EventTypeListed,
		Attributes: map[string]string{
			"listing": l.Address.String(),
			"seller":  l.Seller.String(),
			"itemId":  l.ItemID,
			"price":   strconv.FormatUint(l.Price, 10),
			"variant": l.Variant.String(),
		},
	}
}

// NewBoughtEvent describes a settled listing.
func NewBoughtEvent(l *Listing) *types.Event {
	attrs := map[string]string{
		"listing": l.Address.String(),
		"seller":  l.Seller.String(),
		"itemId":  l.ItemID,
		"price":   strconv.FormatUint(l.Price, 10),
		"variant": l.Variant.String(),
	}
	if l.Buyer != nil {
		attrs["buyer"] = l.Buyer.String()
	}
	return &types.Event{Type: EventTypeBought, Attributes: attrs}
}
