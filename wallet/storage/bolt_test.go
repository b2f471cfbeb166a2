package storage

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ecashapp/satchel/cashu"
	"github.com/ecashapp/satchel/crypto"
	"github.com/ecashapp/satchel/lightning"
)

func testBolt(t *testing.T) *BoltDB {
	t.Helper()

	db, err := InitBolt(t.TempDir())
	if err != nil {
		t.Fatalf("error setting up bolt db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func testProofs(prefix string, amounts ...uint64) cashu.Proofs {
	proofs := make(cashu.Proofs, len(amounts))
	for i, amount := range amounts {
		proofs[i] = cashu.Proof{
			Amount: amount,
			Id:     "00ad268c4d1f5826",
			Secret: fmt.Sprintf("%s-%d", prefix, i),
			C:      "02c020067db727d586bc3183aecf97fcb800c3f4cc4759f69c626c9db5d8f5b5d4",
		}
	}
	return proofs
}

func TestProofs(t *testing.T) {
	db := testBolt(t)

	if proofs := db.GetProofs(); len(proofs) != 0 {
		t.Fatalf("expected empty db but got %v", proofs)
	}

	proofs := testProofs("proof", 8, 4, 2, 1)
	if err := db.SaveProofs(proofs); err != nil {
		t.Fatalf("unexpected error saving proofs: %v", err)
	}

	stored := db.GetProofs()
	if len(stored) != 4 || stored.Amount() != 15 {
		t.Fatalf("got wrong proofs back: %v", stored)
	}
}

func TestUpdateProofs(t *testing.T) {
	db := testBolt(t)

	proofs := testProofs("proof", 8, 4, 2, 1)
	if err := db.SaveProofs(proofs); err != nil {
		t.Fatalf("unexpected error saving proofs: %v", err)
	}

	// swap the 8 and 4 for change, as the send path does
	change := testProofs("change", 1)
	if err := db.UpdateProofs(proofs[:2], change); err != nil {
		t.Fatalf("unexpected error updating proofs: %v", err)
	}

	stored := db.GetProofs()
	if stored.Amount() != 4 {
		t.Fatalf("expected amount 4 after update but got %v", stored.Amount())
	}
	for _, proof := range stored {
		if proof.Amount == 8 {
			t.Fatal("removed proof still present after update")
		}
	}
}

func TestKeysets(t *testing.T) {
	db := testBolt(t)

	pubkeys := make(map[uint64]*btcec.PublicKey)
	for _, amount := range []uint64{1, 2, 4} {
		privkey, err := btcec.NewPrivateKey()
		if err != nil {
			t.Fatalf("error generating key: %v", err)
		}
		pubkeys[amount] = privkey.PubKey()
	}

	keyset := crypto.WalletKeyset{
		Id:         crypto.DeriveKeysetId(pubkeys),
		MintURL:    "http://127.0.0.1:3338",
		Unit:       "sat",
		Active:     true,
		PublicKeys: pubkeys,
	}
	if err := db.SaveKeyset(keyset); err != nil {
		t.Fatalf("unexpected error saving keyset: %v", err)
	}

	keysets := db.GetKeysets()
	stored, ok := keysets[keyset.Id]
	if !ok {
		t.Fatalf("keyset '%v' not found", keyset.Id)
	}
	if !reflect.DeepEqual(stored, keyset) {
		t.Fatalf("expected keyset '%+v' but got '%+v'", keyset, stored)
	}
}

func TestInvoices(t *testing.T) {
	db := testBolt(t)

	invoice := lightning.Invoice{
		Id:             "quote1",
		PaymentRequest: "lnbc210n1pjvcjenspp5test",
		Amount:         21,
		Expiry:         1893456000,
	}
	if err := db.SaveInvoice(invoice); err != nil {
		t.Fatalf("unexpected error saving invoice: %v", err)
	}

	stored := db.GetInvoiceByQuoteId("quote1")
	if stored == nil {
		t.Fatal("expected invoice by quote id")
	}
	if !reflect.DeepEqual(*stored, invoice) {
		t.Fatalf("expected invoice '%+v' but got '%+v'", invoice, *stored)
	}

	stored = db.GetInvoice(invoice.PaymentRequest)
	if stored == nil {
		t.Fatal("expected invoice by payment request")
	}
	if stored.Id != "quote1" {
		t.Fatalf("got wrong invoice: %+v", stored)
	}

	if db.GetInvoiceByQuoteId("missing") != nil {
		t.Fatal("expected no invoice for unknown quote id")
	}
	if db.GetInvoice("lnbc1unknown") != nil {
		t.Fatal("expected no invoice for unknown payment request")
	}

	// settling overwrites in place
	invoice.Settled = true
	if err := db.SaveInvoice(invoice); err != nil {
		t.Fatalf("unexpected error saving invoice: %v", err)
	}
	if stored := db.GetInvoiceByQuoteId("quote1"); stored == nil || !stored.Settled {
		t.Fatal("expected invoice to be settled")
	}
}
