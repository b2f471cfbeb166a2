// Package redeemer implements the background job that settles pending
// mint quotes: it asks the mint whether each quote's invoice has been
// paid and, once it has, mints the proofs and credits them to the
// owning user in the ledger.
package redeemer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ecashapp/satchel/cashu"
	"github.com/ecashapp/satchel/crypto"
	"github.com/ecashapp/satchel/ledger"
	"github.com/ecashapp/satchel/wallet"
)

// MintCaller is the part of the mint contract the redeemer needs.
type MintCaller interface {
	MintProofs(amount uint64, quoteId, keysetId string) (cashu.Proofs, error)
}

// ClientFactory builds a mint client bound to a mint url.
type ClientFactory func(mintURL string) MintCaller

type Redeemer struct {
	db        ledger.DB
	newClient ClientFactory
	logger    *slog.Logger
}

func New(db ledger.DB, newClient ClientFactory, logger *slog.Logger) *Redeemer {
	if newClient == nil {
		newClient = func(mintURL string) MintCaller {
			return wallet.NewMintClient(mintURL)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redeemer{db: db, newClient: newClient, logger: logger}
}

// RedeemPending walks all unpaid, unexpired mint quotes and tries to
// redeem each one. A quote whose invoice is still unpaid is left
// pending; any other per-quote failure is logged and the batch moves
// on. It only returns an error when the pending quotes cannot be
// listed at all or the context is canceled.
func (r *Redeemer) RedeemPending(ctx context.Context) error {
	quotes, err := r.db.GetPendingMintQuotes()
	if err != nil {
		return fmt.Errorf("error getting pending mint quotes: %v", err)
	}

	for _, quote := range quotes {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.redeemQuote(quote); err != nil {
			r.logger.Error("error redeeming quote",
				slog.String("quote", quote.Id), slog.String("error", err.Error()))
			continue
		}
	}

	return nil
}

func (r *Redeemer) redeemQuote(quote ledger.MintQuote) error {
	keyset, err := r.db.GetKeyset(quote.KeysetId)
	if err != nil {
		return fmt.Errorf("error getting keyset '%v': %v", quote.KeysetId, err)
	}

	keys, err := crypto.ParseKeyList(keyset.Keys)
	if err != nil {
		return fmt.Errorf("malformed keyset '%v': %v", keyset.Id, err)
	}
	pubkeys, err := crypto.MapPubKeys(keys)
	if err != nil {
		return fmt.Errorf("malformed keyset '%v': %v", keyset.Id, err)
	}
	if id := crypto.DeriveKeysetId(pubkeys); id != keyset.Id {
		return fmt.Errorf("keyset id mismatch: derived '%v' but stored '%v'", id, keyset.Id)
	}

	client := r.newClient(keyset.MintURL)
	proofs, err := client.MintProofs(quote.Amount, quote.Id, keyset.Id)
	if errors.Is(err, wallet.ErrQuoteNotPaid) {
		// invoice not settled yet, expected steady state
		r.logger.Debug("quote not paid yet", slog.String("quote", quote.Id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("error minting proofs for quote '%v': %v", quote.Id, err)
	}
	if len(proofs) == 0 {
		return nil
	}

	return r.creditProofs(quote, keyset.Id, proofs)
}

func (r *Redeemer) creditProofs(quote ledger.MintQuote, keysetId string, proofs cashu.Proofs) error {
	if err := r.db.MarkMintQuotePaid(quote.Id); err != nil {
		return fmt.Errorf("could not mark quote '%v' as paid: %v", quote.Id, err)
	}

	user, err := r.db.GetUserByPubkey(quote.Pubkey)
	if err != nil {
		return fmt.Errorf("no user for pubkey '%v': %v", quote.Pubkey, err)
	}

	records := make([]ledger.Proof, len(proofs))
	for i, proof := range proofs {
		records[i] = ledger.Proof{
			Secret:   proof.Secret,
			Amount:   proof.Amount,
			C:        proof.C,
			KeysetId: keysetId,
			UserId:   user.Id,
		}
	}

	err = r.db.SaveProofs(records)
	if errors.Is(err, ledger.ErrDuplicateProof) {
		// a previous run already credited these proofs
		r.logger.Info("proofs already credited", slog.String("quote", quote.Id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("error saving proofs for quote '%v': %v", quote.Id, err)
	}

	r.logger.Info("redeemed mint quote",
		slog.String("quote", quote.Id),
		slog.String("user", quote.Pubkey),
		slog.Uint64("amount", proofs.Amount()))

	return nil
}
