// Package wallet implements the settlement engine of the wallet: it
// selects proofs to cover payments, pays bolt11 invoices through the
// mint, requests and redeems mint quotes and builds sendable tokens.
package wallet

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/ecashapp/satchel/cashu"
	"github.com/ecashapp/satchel/crypto"
	"github.com/ecashapp/satchel/lightning"
	"github.com/ecashapp/satchel/wallet/storage"
)

type Config struct {
	WalletPath     string
	CurrentMintURL string
}

type Wallet struct {
	db     storage.DB
	client MintClient

	// current mint url
	MintURL string

	// active keysets from current mint
	ActiveKeysets map[string]crypto.WalletKeyset
	// list of inactive keysets (if any) from current mint
	InactiveKeysets map[string]crypto.WalletKeyset
}

func InitStorage(path string) (storage.DB, error) {
	// bolt db atm
	return storage.InitBolt(path)
}

func LoadWallet(config Config) (*Wallet, error) {
	db, err := InitStorage(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("InitStorage: %v", err)
	}

	mintURL, err := url.Parse(config.CurrentMintURL)
	if err != nil {
		return nil, fmt.Errorf("invalid mint url: %v", err)
	}

	wallet := &Wallet{db: db, MintURL: mintURL.String()}
	wallet.client = NewMintClient(wallet.MintURL)

	knownKeysets := wallet.db.GetKeysets()

	activeKeysets, err := GetMintActiveKeysets(wallet.MintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting active keysets from mint: %v", err)
	}
	wallet.ActiveKeysets = activeKeysets

	for _, keyset := range activeKeysets {
		// save current keyset if new
		if _, ok := knownKeysets[keyset.Id]; !ok {
			if err := db.SaveKeyset(keyset); err != nil {
				return nil, fmt.Errorf("error setting up wallet: %v", err)
			}
		}
	}

	inactiveKeysets, err := GetMintInactiveKeysets(wallet.MintURL)
	if err != nil {
		return nil, fmt.Errorf("error setting up wallet: %v", err)
	}
	wallet.InactiveKeysets = inactiveKeysets

	return wallet, nil
}

func (w *Wallet) GetBalance() uint64 {
	return w.db.GetProofs().Amount()
}

// RequestMint requests a quote to mint new proofs for the amount. The
// returned invoice has to be paid externally before the quote can be
// redeemed with MintTokens.
func (w *Wallet) RequestMint(amount uint64) (*MintQuoteResponse, error) {
	mintResponse, err := w.client.RequestMintQuote(amount)
	if err != nil {
		return nil, err
	}

	invoice := lightning.Invoice{
		Id:             mintResponse.Quote,
		PaymentRequest: mintResponse.Request,
		Amount:         amount,
		Expiry:         mintResponse.Expiry,
	}
	if err := w.db.SaveInvoice(invoice); err != nil {
		return nil, err
	}

	return mintResponse, nil
}

// MintTokens redeems a previously requested mint quote. If the quote's
// invoice has not been paid yet it returns ErrQuoteNotPaid and the
// caller may retry; on success the new proofs are added to the wallet.
func (w *Wallet) MintTokens(quoteId string) (cashu.Proofs, error) {
	invoice := w.db.GetInvoiceByQuoteId(quoteId)
	if invoice == nil {
		return nil, errors.New("invoice not found")
	}

	activeKeyset := w.GetActiveSatKeyset()
	proofs, err := w.client.MintProofs(invoice.Amount, quoteId, activeKeyset.Id)
	if err != nil {
		return nil, err
	}

	if err := w.db.SaveProofs(proofs); err != nil {
		return nil, fmt.Errorf("error storing proofs: %v", err)
	}

	invoice.Settled = true
	if err := w.db.SaveInvoice(*invoice); err != nil {
		return nil, err
	}

	return proofs, nil
}

// PayInvoice melts proofs to pay a bolt11 invoice. Proofs are only
// removed from storage after the mint confirms the payment; if the
// payment fails the wallet is left untouched.
func (w *Wallet) PayInvoice(request string) (*MeltResponse, error) {
	invoiceAmount, err := lightning.ParseInvoiceAmount(request)
	if err != nil {
		return nil, err
	}

	meltQuote, err := w.client.MeltQuote(request)
	if err != nil {
		return nil, err
	}

	amountNeeded := invoiceAmount + meltQuote.FeeReserve
	selected, _, err := SelectProofs(w.db.GetProofs(), amountNeeded)
	if err != nil {
		return nil, err
	}

	meltResponse, err := w.client.Melt(meltQuote.Quote, selected)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}
	if !meltResponse.Paid {
		return nil, ErrPaymentFailed
	}

	// only remove proofs after the invoice has been paid
	if err := w.db.UpdateProofs(selected, nil); err != nil {
		return nil, fmt.Errorf("error updating proofs: %v", err)
	}

	return meltResponse, nil
}

// Send builds an encoded token for the amount. If the greedy selection
// overshoots, the selected proofs are swapped at the mint for an exact
// set plus change, and the change is kept.
func (w *Wallet) Send(amount uint64) (cashu.Token, error) {
	proofsToSend, err := w.getProofsForAmount(amount)
	if err != nil {
		return nil, err
	}

	return cashu.NewTokenV3(proofsToSend, w.MintURL, cashu.Sat)
}

// Receive redeems an encoded token by swapping its proofs at the mint
// for fresh ones owned by this wallet.
func (w *Wallet) Receive(token cashu.Token) (uint64, error) {
	proofs := token.Proofs()
	if cashu.CheckDuplicateProofs(proofs) {
		return 0, cashu.DuplicateProofs
	}

	activeKeyset := w.GetActiveSatKeyset()
	newProofs, err := w.client.Swap(proofs, cashu.AmountSplit(proofs.Amount()), activeKeyset.Id)
	if err != nil {
		return 0, err
	}

	if err := w.db.SaveProofs(newProofs); err != nil {
		return 0, fmt.Errorf("error storing proofs: %v", err)
	}

	return newProofs.Amount(), nil
}

// getProofsForAmount selects proofs worth exactly amount, swapping at
// the mint when the selection overshoots. The removal of the selected
// proofs and the insertion of any change happen in one storage update.
func (w *Wallet) getProofsForAmount(amount uint64) (cashu.Proofs, error) {
	selected, remainder, err := SelectProofs(w.db.GetProofs(), amount)
	if err != nil {
		return nil, err
	}

	if remainder == 0 {
		if err := w.db.UpdateProofs(selected, nil); err != nil {
			return nil, fmt.Errorf("error updating proofs: %v", err)
		}
		return selected, nil
	}

	sendAmounts := cashu.AmountSplit(amount)
	amounts := append(sendAmounts, cashu.AmountSplit(remainder)...)

	activeKeyset := w.GetActiveSatKeyset()
	swapped, err := w.client.Swap(selected, amounts, activeKeyset.Id)
	if err != nil {
		return nil, err
	}
	if len(swapped) != len(amounts) {
		return nil, errors.New("mint returned wrong number of proofs from swap")
	}

	// proofs come back in the requested amounts order: send first,
	// change after
	proofsToSend := swapped[:len(sendAmounts)]
	change := swapped[len(sendAmounts):]

	if err := w.db.UpdateProofs(selected, change); err != nil {
		return nil, fmt.Errorf("error updating proofs: %v", err)
	}

	return proofsToSend, nil
}

func (w *Wallet) GetActiveSatKeyset() crypto.WalletKeyset {
	var activeKeyset crypto.WalletKeyset
	for _, keyset := range w.ActiveKeysets {
		if keyset.Unit == cashu.Sat.String() {
			activeKeyset = keyset
			break
		}
	}
	return activeKeyset
}

func (w *Wallet) GetInvoice(paymentRequest string) *lightning.Invoice {
	return w.db.GetInvoice(paymentRequest)
}
