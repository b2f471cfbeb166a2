package redeemer

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ecashapp/satchel/cashu"
	"github.com/ecashapp/satchel/crypto"
	"github.com/ecashapp/satchel/ledger"
	"github.com/ecashapp/satchel/wallet"
)

type fakeLedger struct {
	users   map[string]ledger.User
	keysets map[string]ledger.Keyset
	quotes  []ledger.MintQuote
	proofs  []ledger.Proof
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		users:   make(map[string]ledger.User),
		keysets: make(map[string]ledger.Keyset),
	}
}

func (l *fakeLedger) SaveUser(pubkey string) (ledger.User, error) {
	user := ledger.User{Id: int64(len(l.users) + 1), Pubkey: pubkey}
	l.users[pubkey] = user
	return user, nil
}

func (l *fakeLedger) GetUserByPubkey(pubkey string) (ledger.User, error) {
	user, ok := l.users[pubkey]
	if !ok {
		return ledger.User{}, ledger.ErrNotFound
	}
	return user, nil
}

func (l *fakeLedger) SaveKeyset(keyset ledger.Keyset) error {
	l.keysets[keyset.Id] = keyset
	return nil
}

func (l *fakeLedger) GetKeyset(id string) (ledger.Keyset, error) {
	keyset, ok := l.keysets[id]
	if !ok {
		return ledger.Keyset{}, ledger.ErrNotFound
	}
	return keyset, nil
}

func (l *fakeLedger) SaveMintQuote(quote ledger.MintQuote) error {
	l.quotes = append(l.quotes, quote)
	return nil
}

func (l *fakeLedger) GetMintQuote(id string) (ledger.MintQuote, error) {
	for _, quote := range l.quotes {
		if quote.Id == id {
			return quote, nil
		}
	}
	return ledger.MintQuote{}, ledger.ErrNotFound
}

func (l *fakeLedger) GetPendingMintQuotes() ([]ledger.MintQuote, error) {
	now := uint64(time.Now().Unix())
	var pending []ledger.MintQuote
	for _, quote := range l.quotes {
		if !quote.Paid && quote.Expiry > now {
			pending = append(pending, quote)
		}
	}
	return pending, nil
}

func (l *fakeLedger) MarkMintQuotePaid(id string) error {
	for i, quote := range l.quotes {
		if quote.Id == id {
			l.quotes[i].Paid = true
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (l *fakeLedger) SaveProofs(proofs []ledger.Proof) error {
	for _, proof := range proofs {
		for _, existing := range l.proofs {
			if existing.Secret == proof.Secret {
				return ledger.ErrDuplicateProof
			}
		}
	}
	l.proofs = append(l.proofs, proofs...)
	return nil
}

func (l *fakeLedger) GetProofsByUser(userId int64) ([]ledger.Proof, error) {
	var proofs []ledger.Proof
	for _, proof := range l.proofs {
		if proof.UserId == userId {
			proofs = append(proofs, proof)
		}
	}
	return proofs, nil
}

func (l *fakeLedger) Close() {}

type fakeMint struct {
	mintFn func(amount uint64, quoteId, keysetId string) (cashu.Proofs, error)
	calls  int
}

func (m *fakeMint) MintProofs(amount uint64, quoteId, keysetId string) (cashu.Proofs, error) {
	m.calls++
	return m.mintFn(amount, quoteId, keysetId)
}

func factoryFor(mint *fakeMint) ClientFactory {
	return func(mintURL string) MintCaller { return mint }
}

// makeTestKeyset builds a keyset whose stored id matches the one
// derived from its keys, as redemption validates.
func makeTestKeyset(t *testing.T) ledger.Keyset {
	t.Helper()

	pubkeys := make(map[uint64]*btcec.PublicKey)
	for _, amount := range []uint64{1, 2, 4, 8} {
		privkey, err := btcec.NewPrivateKey()
		if err != nil {
			t.Fatalf("error generating key: %v", err)
		}
		pubkeys[amount] = privkey.PubKey()
	}

	keys := make([]string, 0, len(pubkeys))
	for amount, pubkey := range pubkeys {
		keys = append(keys, fmt.Sprintf("%d:%s", amount,
			hex.EncodeToString(pubkey.SerializeCompressed())))
	}

	return ledger.Keyset{
		Id:      crypto.DeriveKeysetId(pubkeys),
		MintURL: "http://127.0.0.1:3338",
		Unit:    "sat",
		Keys:    keys,
	}
}

func mintedProofs(keysetId string, amounts ...uint64) cashu.Proofs {
	proofs := make(cashu.Proofs, len(amounts))
	for i, amount := range amounts {
		proofs[i] = cashu.Proof{
			Amount: amount,
			Id:     keysetId,
			Secret: fmt.Sprintf("minted-%s-%d", keysetId, i),
			C:      "02c020067db727d586bc3183aecf97fcb800c3f4cc4759f69c626c9db5d8f5b5d4",
		}
	}
	return proofs
}

func pendingQuote(id, pubkey, keysetId string, amount uint64) ledger.MintQuote {
	return ledger.MintQuote{
		Id:        id,
		Pubkey:    pubkey,
		Amount:    amount,
		KeysetId:  keysetId,
		Expiry:    uint64(time.Now().Add(time.Hour).Unix()),
		CreatedAt: time.Now().Unix(),
	}
}

func TestRedeemPendingNotPaid(t *testing.T) {
	db := newFakeLedger()
	keyset := makeTestKeyset(t)
	db.SaveKeyset(keyset)
	db.SaveUser("userpubkey")
	db.SaveMintQuote(pendingQuote("quote1", "userpubkey", keyset.Id, 21))

	mint := &fakeMint{
		mintFn: func(amount uint64, quoteId, keysetId string) (cashu.Proofs, error) {
			return nil, wallet.ErrQuoteNotPaid
		},
	}

	r := New(db, factoryFor(mint), slog.Default())
	if err := r.RedeemPending(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// quote stays pending for the next run
	quote, _ := db.GetMintQuote("quote1")
	if quote.Paid {
		t.Fatal("unpaid quote must not be marked paid")
	}
	if len(db.proofs) != 0 {
		t.Fatalf("expected no proofs to be credited, got %v", db.proofs)
	}
}

func TestRedeemPendingCreditsProofs(t *testing.T) {
	db := newFakeLedger()
	keyset := makeTestKeyset(t)
	db.SaveKeyset(keyset)
	user, _ := db.SaveUser("userpubkey")
	db.SaveMintQuote(pendingQuote("quote1", "userpubkey", keyset.Id, 21))

	mint := &fakeMint{
		mintFn: func(amount uint64, quoteId, keysetId string) (cashu.Proofs, error) {
			if quoteId != "quote1" || keysetId != keyset.Id {
				t.Fatalf("mint called with wrong arguments: '%v' '%v'", quoteId, keysetId)
			}
			return mintedProofs(keysetId, 16, 4, 1), nil
		},
	}

	r := New(db, factoryFor(mint), slog.Default())
	if err := r.RedeemPending(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	quote, _ := db.GetMintQuote("quote1")
	if !quote.Paid {
		t.Fatal("expected quote to be marked paid")
	}

	proofs, _ := db.GetProofsByUser(user.Id)
	if len(proofs) != 3 {
		t.Fatalf("expected 3 credited proofs, got %v", len(proofs))
	}
	var total uint64
	for _, proof := range proofs {
		total += proof.Amount
	}
	if total != 21 {
		t.Fatalf("expected credited amount 21 but got %v", total)
	}

	// the settled quote is out of the pending set
	pending, _ := db.GetPendingMintQuotes()
	if len(pending) != 0 {
		t.Fatalf("expected no pending quotes, got %v", pending)
	}
}

func TestRedeemPendingAlreadyCredited(t *testing.T) {
	db := newFakeLedger()
	keyset := makeTestKeyset(t)
	db.SaveKeyset(keyset)
	user, _ := db.SaveUser("userpubkey")
	db.SaveMintQuote(pendingQuote("quote1", "userpubkey", keyset.Id, 21))

	// a previous run credited the proofs but crashed before marking
	// the quote as paid
	proofs := mintedProofs(keyset.Id, 16, 4, 1)
	records := make([]ledger.Proof, len(proofs))
	for i, proof := range proofs {
		records[i] = ledger.Proof{
			Secret: proof.Secret, Amount: proof.Amount, C: proof.C,
			KeysetId: keyset.Id, UserId: user.Id,
		}
	}
	if err := db.SaveProofs(records); err != nil {
		t.Fatalf("error seeding proofs: %v", err)
	}

	mint := &fakeMint{
		mintFn: func(amount uint64, quoteId, keysetId string) (cashu.Proofs, error) {
			return proofs, nil
		},
	}

	r := New(db, factoryFor(mint), slog.Default())
	if err := r.RedeemPending(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	quote, _ := db.GetMintQuote("quote1")
	if !quote.Paid {
		t.Fatal("expected quote to be marked paid")
	}

	// no double credit
	credited, _ := db.GetProofsByUser(user.Id)
	if len(credited) != 3 {
		t.Fatalf("expected 3 credited proofs, got %v", len(credited))
	}
}

func TestRedeemPendingBatchContinues(t *testing.T) {
	db := newFakeLedger()
	keyset := makeTestKeyset(t)
	db.SaveKeyset(keyset)
	user, _ := db.SaveUser("userpubkey")

	// first quote references a keyset the ledger does not have
	db.SaveMintQuote(pendingQuote("broken", "userpubkey", "00deadbeef000000", 8))
	db.SaveMintQuote(pendingQuote("quote1", "userpubkey", keyset.Id, 8))

	mint := &fakeMint{
		mintFn: func(amount uint64, quoteId, keysetId string) (cashu.Proofs, error) {
			return mintedProofs(keysetId, 8), nil
		},
	}

	r := New(db, factoryFor(mint), slog.Default())
	if err := r.RedeemPending(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	quote, _ := db.GetMintQuote("quote1")
	if !quote.Paid {
		t.Fatal("a failing quote must not block the rest of the batch")
	}
	proofs, _ := db.GetProofsByUser(user.Id)
	if len(proofs) != 1 {
		t.Fatalf("expected 1 credited proof, got %v", len(proofs))
	}
}

func TestRedeemPendingCanceledContext(t *testing.T) {
	db := newFakeLedger()
	keyset := makeTestKeyset(t)
	db.SaveKeyset(keyset)
	db.SaveUser("userpubkey")
	db.SaveMintQuote(pendingQuote("quote1", "userpubkey", keyset.Id, 21))

	mint := &fakeMint{
		mintFn: func(amount uint64, quoteId, keysetId string) (cashu.Proofs, error) {
			return mintedProofs(keysetId, 16, 4, 1), nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(db, factoryFor(mint), slog.Default())
	if err := r.RedeemPending(ctx); err == nil {
		t.Fatal("expected error from canceled context")
	}
	if mint.calls != 0 {
		t.Fatal("no mint calls should happen after cancellation")
	}
}
