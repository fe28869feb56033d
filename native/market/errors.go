package market

import "errors"

var (
	ErrAlreadySold           = errors.New("market: listing already sold")
	ErrInsufficientFunds     = errors.New("market: insufficient funds")
	ErrWrongPaymentUnit      = errors.New("market: payment account uses the wrong unit")
	ErrAssetMissing          = errors.New("market: escrowed asset missing from vault")
	ErrItemIDTooLong         = errors.New("market: item id too long")
	ErrListingExists         = errors.New("market: listing already exists")
	ErrListingNotFound       = errors.New("market: listing not found")
	ErrAddressMismatch       = errors.New("market: supplied address does not match derivation")
	ErrSellerAccountMismatch = errors.New("market: payment destination not owned by seller")
	ErrInvalidListing        = errors.New("market: invalid listing record")
)

var (
	errNilEngine     = errors.New("market engine: not configured")
	errNilSettlement = errors.New("market engine: settlement strategy not configured")
)
