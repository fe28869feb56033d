package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowmarket/core/events"
	"escrowmarket/core/runtime"
	"escrowmarket/core/state"
	"escrowmarket/crypto"
	"escrowmarket/native/common"
	"escrowmarket/native/token"
	"escrowmarket/storage"
)

type harness struct {
	t         *testing.T
	rt        *runtime.Runtime
	rec       *events.Recorder
	ledger    *token.Ledger
	engine    *Engine
	authority crypto.Address
	accounts  int
}

func addr(label string) crypto.Address { return crypto.HashToAddress([]byte(label)) }

func newHarness(t *testing.T, settlement Settlement) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	rt := runtime.New(db)
	rec := &events.Recorder{}
	rt.SetEmitter(rec)
	ledger := token.NewLedger()
	return &harness{
		t:         t,
		rt:        rt,
		rec:       rec,
		ledger:    ledger,
		engine:    NewEngine(ledger, settlement),
		authority: addr("mint-authority"),
	}
}

func (h *harness) createMint(label string) crypto.Address {
	h.t.Helper()
	mint := addr("mint:" + label)
	err := h.rt.Execute(context.Background(), runtime.Invocation{
		Signers:  []crypto.Address{h.authority},
		Writable: []crypto.Address{mint},
	}, token.ProgramID, func(c *runtime.Context) error {
		_, err := h.ledger.CreateMint(c, mint, h.authority, 0)
		return err
	})
	require.NoError(h.t, err)
	return mint
}

func (h *harness) holding(mint, owner crypto.Address, amount uint64) crypto.Address {
	h.t.Helper()
	h.accounts++
	holding := addr(fmt.Sprintf("holding-%d", h.accounts))
	err := h.rt.Execute(context.Background(), runtime.Invocation{
		Signers:  []crypto.Address{h.authority},
		Writable: []crypto.Address{holding, mint},
	}, token.ProgramID, func(c *runtime.Context) error {
		if _, err := h.ledger.OpenAccount(c, holding, mint, owner); err != nil {
			return err
		}
		if amount == 0 {
			return nil
		}
		return h.ledger.MintTo(c, mint, holding, amount)
	})
	require.NoError(h.t, err)
	return holding
}

func (h *harness) balance(holding crypto.Address) uint64 {
	h.t.Helper()
	var amount uint64
	require.NoError(h.t, h.rt.View(context.Background(), token.ProgramID, func(c *runtime.Context) error {
		acc, err := h.ledger.Account(c, holding)
		if err != nil {
			return err
		}
		amount = acc.Amount
		return nil
	}))
	return amount
}

func (h *harness) listing(address crypto.Address) *Listing {
	h.t.Helper()
	var out *Listing
	require.NoError(h.t, h.rt.View(context.Background(), h.engine.ProgramID(), func(c *runtime.Context) error {
		l, err := h.engine.Listing(c, address)
		out = l
		return err
	}))
	return out
}

func (h *harness) list(req ListRequest) (*Listing, error) {
	writable, err := h.engine.ListAccounts(req)
	if err != nil {
		return nil, err
	}
	var out *Listing
	err = h.rt.Execute(context.Background(), runtime.Invocation{
		Signers:  []crypto.Address{req.Seller},
		Writable: writable,
	}, h.engine.ProgramID(), func(c *runtime.Context) error {
		l, err := h.engine.List(c, req)
		out = l
		return err
	})
	return out, err
}

func (h *harness) buyAs(signers []crypto.Address, req BuyRequest) (*Listing, error) {
	writable, err := h.engine.BuyAccounts(req)
	if err != nil {
		return nil, err
	}
	var out *Listing
	err = h.rt.Execute(context.Background(), runtime.Invocation{
		Signers:  signers,
		Writable: writable,
	}, h.engine.ProgramID(), func(c *runtime.Context) error {
		l, err := h.engine.Buy(c, req)
		out = l
		return err
	})
	return out, err
}

func (h *harness) buy(req BuyRequest) (*Listing, error) {
	return h.buyAs([]crypto.Address{req.Buyer}, req)
}

// market is a funded seller/buyer pair for one variant. In the full-escrow
// variant payment accounts use the asset unit.
type market struct {
	*harness
	seller, buyer crypto.Address
	unit          crypto.Address
	sellerAsset   crypto.Address
	sellerPay     crypto.Address
	buyerPay      crypto.Address
	buyerAsset    crypto.Address
}

func newMarket(t *testing.T, settlement Settlement, buyerFunds uint64) *market {
	t.Helper()
	h := newHarness(t, settlement)
	m := &market{harness: h, seller: addr("seller"), buyer: addr("buyer")}
	m.unit = h.createMint("card")
	if settlement.Variant() == VariantFullEscrow {
		m.sellerAsset = h.holding(m.unit, m.seller, 5)
		m.buyerAsset = h.holding(m.unit, m.buyer, 0)
	}
	m.sellerPay = h.holding(m.unit, m.seller, 0)
	m.buyerPay = h.holding(m.unit, m.buyer, buyerFunds)
	return m
}

func (m *market) listRequest(itemID string, price uint64) ListRequest {
	return ListRequest{
		Seller:      m.seller,
		ItemID:      itemID,
		Price:       price,
		AssetUnit:   m.unit,
		SellerAsset: m.sellerAsset,
		Rarity:      "rare",
		CardType:    "creature",
	}
}

func (m *market) buyRequest(listing *Listing) BuyRequest {
	req := BuyRequest{
		Buyer:         m.buyer,
		Listing:       listing.Address,
		BuyerPayment:  m.buyerPay,
		SellerPayment: m.sellerPay,
	}
	if listing.Variant == VariantFullEscrow {
		vault, err := VaultAddress(listing.Address, listing.AssetUnit)
		require.NoError(m.t, err)
		req.Vault = vault
		req.BuyerAsset = m.buyerAsset
	}
	return req
}

func variants() map[string]Settlement {
	return map[string]Settlement{
		"no-escrow":   NoEscrow(),
		"full-escrow": FullEscrow(1),
	}
}

func TestCard042Scenario(t *testing.T) {
	for name, settlement := range variants() {
		t.Run(name, func(t *testing.T) {
			m := newMarket(t, settlement, 150)

			listed, err := m.list(m.listRequest("card-042", 100))
			require.NoError(t, err)
			require.Equal(t, StatusOpen, listed.Status)
			require.Nil(t, listed.Buyer)

			bought, err := m.buy(m.buyRequest(listed))
			require.NoError(t, err)
			require.Equal(t, StatusSold, bought.Status)
			require.Equal(t, m.buyer, *bought.Buyer)

			require.EqualValues(t, 100, m.balance(m.sellerPay))
			require.EqualValues(t, 50, m.balance(m.buyerPay))

			stored := m.listing(listed.Address)
			require.Equal(t, StatusSold, stored.Status)
			require.NotNil(t, stored.Buyer)
			require.Equal(t, m.buyer, *stored.Buyer)
			require.EqualValues(t, 100, stored.Price)

			boughtEvents := m.rec.OfType(EventTypeBought)
			require.Len(t, boughtEvents, 1)
			require.Equal(t, "card-042", boughtEvents[0].Attributes["itemId"])
			require.Equal(t, m.buyer.String(), boughtEvents[0].Attributes["buyer"])
			require.Equal(t, "100", boughtEvents[0].Attributes["price"])

			if settlement.Variant() == VariantFullEscrow {
				vault, err := VaultAddress(listed.Address, m.unit)
				require.NoError(t, err)
				require.Zero(t, m.balance(vault))
				require.EqualValues(t, 1, m.balance(m.buyerAsset))
			}
		})
	}
}

func TestListOpensListingAndFundsVault(t *testing.T) {
	m := newMarket(t, FullEscrow(3), 0)

	listed, err := m.list(m.listRequest("card-007", 40))
	require.NoError(t, err)

	expected, bump, err := ListingAddress(DefaultProgramID, m.seller, "card-007")
	require.NoError(t, err)
	require.Equal(t, expected, listed.Address)
	require.Equal(t, bump, listed.Bump)

	stored := m.listing(listed.Address)
	require.Equal(t, StatusOpen, stored.Status)
	require.Nil(t, stored.Buyer)
	require.EqualValues(t, 40, stored.Price)
	require.Equal(t, m.unit, stored.AssetUnit)
	require.Empty(t, stored.Rarity)

	vault, err := VaultAddress(listed.Address, m.unit)
	require.NoError(t, err)
	require.EqualValues(t, 3, m.balance(vault))
	require.EqualValues(t, 2, m.balance(m.sellerAsset))

	listedEvents := m.rec.OfType(EventTypeListed)
	require.Len(t, listedEvents, 1)
	require.Equal(t, m.seller.String(), listedEvents[0].Attributes["seller"])
	require.Equal(t, "card-007", listedEvents[0].Attributes["itemId"])
	require.Equal(t, "40", listedEvents[0].Attributes["price"])
}

func TestNoEscrowListingKeepsMetadata(t *testing.T) {
	m := newMarket(t, NoEscrow(), 0)

	listed, err := m.list(m.listRequest("card-100", 10))
	require.NoError(t, err)

	stored := m.listing(listed.Address)
	require.Equal(t, VariantNoEscrow, stored.Variant)
	require.Equal(t, "rare", stored.Rarity)
	require.Equal(t, "creature", stored.CardType)
	require.True(t, stored.AssetUnit.IsZero())
}

func TestListingTwiceFails(t *testing.T) {
	for name, settlement := range variants() {
		t.Run(name, func(t *testing.T) {
			m := newMarket(t, settlement, 0)
			first, err := m.list(m.listRequest("card-042", 100))
			require.NoError(t, err)

			_, err = m.list(m.listRequest("card-042", 5))
			require.ErrorIs(t, err, ErrListingExists)
			require.ErrorIs(t, err, state.ErrAccountExists)

			stored := m.listing(first.Address)
			require.EqualValues(t, 100, stored.Price)
			require.Equal(t, StatusOpen, stored.Status)
			require.Len(t, m.rec.OfType(EventTypeListed), 1)
			if settlement.Variant() == VariantFullEscrow {
				require.EqualValues(t, 4, m.balance(m.sellerAsset))
			}
		})
	}
}

func TestBuyOnSoldListingIsRejectedWithoutEffect(t *testing.T) {
	for name, settlement := range variants() {
		t.Run(name, func(t *testing.T) {
			m := newMarket(t, settlement, 500)
			listed, err := m.list(m.listRequest("card-042", 100))
			require.NoError(t, err)
			_, err = m.buy(m.buyRequest(listed))
			require.NoError(t, err)

			before := m.listing(listed.Address)
			sellerBefore, buyerBefore := m.balance(m.sellerPay), m.balance(m.buyerPay)
			eventsBefore := len(m.rec.Events())

			for i := 0; i < 2; i++ {
				_, err = m.buy(m.buyRequest(listed))
				require.ErrorIs(t, err, ErrAlreadySold)
			}

			require.Equal(t, before, m.listing(listed.Address))
			require.Equal(t, sellerBefore, m.balance(m.sellerPay))
			require.Equal(t, buyerBefore, m.balance(m.buyerPay))
			require.Len(t, m.rec.Events(), eventsBefore)
		})
	}
}

func TestBuyWithInsufficientFunds(t *testing.T) {
	cases := map[string]struct {
		settlement Settlement
		want       error
	}{
		"no-escrow":   {settlement: NoEscrow(), want: ErrInsufficientFunds},
		"full-escrow": {settlement: FullEscrow(1), want: token.ErrInsufficientFunds},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			m := newMarket(t, tc.settlement, 99)
			listed, err := m.list(m.listRequest("card-042", 100))
			require.NoError(t, err)
			eventsBefore := len(m.rec.Events())

			_, err = m.buy(m.buyRequest(listed))
			require.ErrorIs(t, err, tc.want)

			require.Zero(t, m.balance(m.sellerPay))
			require.EqualValues(t, 99, m.balance(m.buyerPay))
			require.Equal(t, StatusOpen, m.listing(listed.Address).Status)
			require.Len(t, m.rec.Events(), eventsBefore)
			if tc.settlement.Variant() == VariantFullEscrow {
				vault, err := VaultAddress(listed.Address, m.unit)
				require.NoError(t, err)
				require.EqualValues(t, 1, m.balance(vault))
				require.Zero(t, m.balance(m.buyerAsset))
			}
		})
	}
}

func TestFullEscrowRejectsWrongPaymentUnit(t *testing.T) {
	m := newMarket(t, FullEscrow(1), 0)
	listed, err := m.list(m.listRequest("card-042", 100))
	require.NoError(t, err)

	gold := m.createMint("gold")
	goldPay := m.holding(gold, m.buyer, 1_000)

	req := m.buyRequest(listed)
	req.BuyerPayment = goldPay
	_, err = m.buy(req)
	require.ErrorIs(t, err, ErrWrongPaymentUnit)
	require.EqualValues(t, 1_000, m.balance(goldPay))
	require.Zero(t, m.balance(m.sellerPay))

	req = m.buyRequest(listed)
	req.SellerPayment = m.holding(gold, m.seller, 0)
	_, err = m.buy(req)
	require.ErrorIs(t, err, ErrWrongPaymentUnit)
	require.Equal(t, StatusOpen, m.listing(listed.Address).Status)
}

func TestFullEscrowItemIDLimit(t *testing.T) {
	m := newMarket(t, FullEscrow(1), 0)

	_, err := m.list(m.listRequest(strings.Repeat("x", MaxItemIDLength+1), 1))
	require.ErrorIs(t, err, ErrItemIDTooLong)
	require.EqualValues(t, 5, m.balance(m.sellerAsset))

	for _, size := range []int{crypto.MaxSeedLength + 1, 200} {
		_, err = m.engine.ListAccounts(m.listRequest(strings.Repeat("x", size), 1))
		require.ErrorIs(t, err, ErrItemIDTooLong, "length %d", size)
		require.NotErrorIs(t, err, crypto.ErrMaxSeedLengthExceeded)
	}

	listed, err := m.list(m.listRequest(strings.Repeat("x", MaxItemIDLength), 1))
	require.NoError(t, err)
	require.Len(t, listed.ItemID, MaxItemIDLength)
}

func TestNoEscrowItemIDBoundedOnlyByDerivation(t *testing.T) {
	m := newMarket(t, NoEscrow(), 0)

	_, err := m.list(m.listRequest(strings.Repeat("y", crypto.MaxSeedLength), 1))
	require.NoError(t, err)

	_, err = m.list(m.listRequest(strings.Repeat("z", crypto.MaxSeedLength+1), 1))
	require.ErrorIs(t, err, crypto.ErrMaxSeedLengthExceeded)
}

func TestZeroPriceIsAccepted(t *testing.T) {
	for name, settlement := range variants() {
		t.Run(name, func(t *testing.T) {
			m := newMarket(t, settlement, 0)
			listed, err := m.list(m.listRequest("freebie", 0))
			require.NoError(t, err)
			bought, err := m.buy(m.buyRequest(listed))
			require.NoError(t, err)
			require.Equal(t, StatusSold, bought.Status)
		})
	}
}

func TestBuyRejectsSubstitutedVault(t *testing.T) {
	m := newMarket(t, FullEscrow(1), 100)
	listed, err := m.list(m.listRequest("card-042", 10))
	require.NoError(t, err)

	req := m.buyRequest(listed)
	req.Vault = m.holding(m.unit, m.seller, 1)
	_, err = m.buy(req)
	require.ErrorIs(t, err, ErrAddressMismatch)
	require.EqualValues(t, 100, m.balance(m.buyerPay))
}

func TestBuyRejectsUnknownAndForeignListings(t *testing.T) {
	m := newMarket(t, NoEscrow(), 100)
	listed, err := m.list(m.listRequest("card-042", 10))
	require.NoError(t, err)

	req := m.buyRequest(listed)
	req.Listing = addr("nowhere")
	_, err = m.buy(req)
	require.ErrorIs(t, err, ErrListingNotFound)

	req = m.buyRequest(listed)
	req.Listing = m.buyerPay
	_, err = m.buy(req)
	require.ErrorIs(t, err, ErrListingNotFound)
}

func TestBuyRequiresBuyerSignature(t *testing.T) {
	m := newMarket(t, NoEscrow(), 100)
	listed, err := m.list(m.listRequest("card-042", 10))
	require.NoError(t, err)

	_, err = m.buyAs([]crypto.Address{addr("someone-else")}, m.buyRequest(listed))
	require.ErrorIs(t, err, runtime.ErrMissingSignature)
	require.Equal(t, StatusOpen, m.listing(listed.Address).Status)
}

func TestListRequiresSellerSignature(t *testing.T) {
	m := newMarket(t, NoEscrow(), 0)
	req := m.listRequest("card-042", 10)
	writable, err := m.engine.ListAccounts(req)
	require.NoError(t, err)
	eventsBefore := len(m.rec.Events())

	err = m.rt.Execute(context.Background(), runtime.Invocation{Writable: writable}, m.engine.ProgramID(), func(c *runtime.Context) error {
		_, err := m.engine.List(c, req)
		return err
	})
	require.ErrorIs(t, err, runtime.ErrMissingSignature)
	require.Len(t, m.rec.Events(), eventsBefore)
}

func TestBuyRejectsPaymentToAccountNotOwnedBySeller(t *testing.T) {
	m := newMarket(t, NoEscrow(), 100)
	listed, err := m.list(m.listRequest("card-042", 10))
	require.NoError(t, err)

	req := m.buyRequest(listed)
	req.SellerPayment = m.holding(m.unit, addr("mallory"), 0)
	_, err = m.buy(req)
	require.ErrorIs(t, err, ErrSellerAccountMismatch)
	require.EqualValues(t, 100, m.balance(m.buyerPay))
}

func TestBuyDetectsDrainedVault(t *testing.T) {
	m := newMarket(t, FullEscrow(1), 100)
	listed, err := m.list(m.listRequest("card-042", 10))
	require.NoError(t, err)

	// An engine expecting more units than the listing escrowed sees a short vault.
	greedy := NewEngine(m.ledger, FullEscrow(2))
	m.engine = greedy
	_, err = m.buy(m.buyRequest(listed))
	require.ErrorIs(t, err, ErrAssetMissing)
}

func TestVaultOnlyReleasesThroughListingDerivation(t *testing.T) {
	m := newMarket(t, FullEscrow(1), 0)
	listed, err := m.list(m.listRequest("card-042", 10))
	require.NoError(t, err)
	vault, err := VaultAddress(listed.Address, m.unit)
	require.NoError(t, err)

	thief := m.holding(m.unit, addr("thief"), 0)
	err = m.rt.Execute(context.Background(), runtime.Invocation{
		Signers:  []crypto.Address{m.seller},
		Writable: []crypto.Address{vault, thief},
	}, m.engine.ProgramID(), func(c *runtime.Context) error {
		return m.ledger.Transfer(c, vault, thief, 1, listed.Address)
	})
	require.ErrorIs(t, err, runtime.ErrMissingSignature)

	// Guessing a different bump yields a different address, never the listing.
	err = m.rt.Execute(context.Background(), runtime.Invocation{
		Writable: []crypto.Address{vault, thief},
	}, m.engine.ProgramID(), func(c *runtime.Context) error {
		signed, derived, err := c.InvokeSigned(listingSeeds(m.seller, "card-042"), listed.Bump-1)
		if err != nil {
			return err
		}
		return m.ledger.Transfer(signed, vault, thief, 1, derived)
	})
	require.Error(t, err)
	require.EqualValues(t, 1, m.balance(vault))
}

func TestVariantMismatchIsRejected(t *testing.T) {
	m := newMarket(t, NoEscrow(), 100)
	listed, err := m.list(m.listRequest("card-042", 10))
	require.NoError(t, err)

	m.engine = NewEngine(m.ledger, FullEscrow(1))
	req := m.buyRequest(listed)
	_, err = m.buy(req)
	require.ErrorIs(t, err, ErrInvalidListing)
}

func TestConcurrentBuysSettleOnce(t *testing.T) {
	m := newMarket(t, FullEscrow(1), 0)
	listed, err := m.list(m.listRequest("card-042", 10))
	require.NoError(t, err)

	const buyers = 8
	requests := make([]BuyRequest, buyers)
	for i := range requests {
		buyer := addr(fmt.Sprintf("buyer-%d", i))
		req := m.buyRequest(listed)
		req.Buyer = buyer
		req.BuyerPayment = m.holding(m.unit, buyer, 10)
		req.BuyerAsset = m.holding(m.unit, buyer, 0)
		requests[i] = req
	}

	var wg sync.WaitGroup
	errs := make(chan error, buyers)
	for _, req := range requests {
		wg.Add(1)
		go func(req BuyRequest) {
			defer wg.Done()
			_, err := m.buy(req)
			errs <- err
		}(req)
	}
	wg.Wait()
	close(errs)

	var succeeded int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadySold):
		default:
			t.Fatalf("unexpected buy error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.EqualValues(t, 10, m.balance(m.sellerPay))
	require.Len(t, m.rec.OfType(EventTypeBought), 1)

	var delivered uint64
	for _, req := range requests {
		delivered += m.balance(req.BuyerAsset)
	}
	require.EqualValues(t, 1, delivered)
}

func TestPausedEngineRejectsMutations(t *testing.T) {
	m := newMarket(t, NoEscrow(), 150)
	listed, err := m.list(m.listRequest("card-050", 10))
	require.NoError(t, err)

	m.engine.SetPauses(common.Pauses{ModuleName: true})
	_, err = m.list(m.listRequest("card-051", 10))
	require.ErrorIs(t, err, common.ErrModulePaused)
	_, err = m.buy(m.buyRequest(listed))
	require.ErrorIs(t, err, common.ErrModulePaused)
	require.Equal(t, StatusOpen, m.listing(listed.Address).Status)

	m.engine.SetPauses(nil)
	bought, err := m.buy(m.buyRequest(listed))
	require.NoError(t, err)
	require.Equal(t, StatusSold, bought.Status)
}
