package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/ecashapp/satchel/cashu"
	"github.com/ecashapp/satchel/crypto"
	"github.com/ecashapp/satchel/lightning"
	bolt "go.etcd.io/bbolt"
)

const (
	keysetsBucket  = "keysets"
	proofsBucket   = "proofs"
	invoicesBucket = "invoices"
)

type BoltDB struct {
	bolt *bolt.DB
}

func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(filepath.Join(path, "wallet.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	boltdb := &BoltDB{bolt: db}
	err = boltdb.initWalletBuckets()
	if err != nil {
		return nil, fmt.Errorf("error setting up wallet db: %v", err)
	}

	return boltdb, nil
}

func (db *BoltDB) initWalletBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(proofsBucket))
		if err != nil {
			return err
		}

		_, err = tx.CreateBucketIfNotExists([]byte(keysetsBucket))
		if err != nil {
			return err
		}

		_, err = tx.CreateBucketIfNotExists([]byte(invoicesBucket))
		if err != nil {
			return err
		}

		return nil
	})
}

// proofKey identifies a proof in the bucket. Amounts repeat, so the
// key is the keyset id concatenated with the secret.
func proofKey(proof cashu.Proof) []byte {
	return []byte(proof.Id + proof.Secret)
}

func (db *BoltDB) GetProofs() cashu.Proofs {
	proofs := cashu.Proofs{}

	if err := db.bolt.View(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))

		c := proofsb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var proof cashu.Proof
			if err := json.Unmarshal(v, &proof); err != nil {
				return fmt.Errorf("error getting proofs: %v", err)
			}
			proofs = append(proofs, proof)
		}
		return nil
	}); err != nil {
		return cashu.Proofs{}
	}

	return proofs
}

func (db *BoltDB) SaveProofs(proofs cashu.Proofs) error {
	return db.UpdateProofs(nil, proofs)
}

// UpdateProofs removes and adds the passed proofs in a single bolt
// transaction. Callers on the pay path rely on the removal only
// happening together with any change insertion.
func (db *BoltDB) UpdateProofs(remove cashu.Proofs, add cashu.Proofs) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))

		for _, proof := range remove {
			if err := proofsb.Delete(proofKey(proof)); err != nil {
				return fmt.Errorf("error removing proof: %v", err)
			}
		}

		for _, proof := range add {
			jsonProof, err := json.Marshal(proof)
			if err != nil {
				return fmt.Errorf("invalid proof: %v", err)
			}
			if err := proofsb.Put(proofKey(proof), jsonProof); err != nil {
				return fmt.Errorf("error saving proof: %v", err)
			}
		}

		return nil
	})
}

func (db *BoltDB) SaveKeyset(keyset crypto.WalletKeyset) error {
	jsonKeyset, err := json.Marshal(keyset)
	if err != nil {
		return fmt.Errorf("invalid keyset: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))
		return keysetsb.Put([]byte(keyset.Id), jsonKeyset)
	})
}

func (db *BoltDB) GetKeysets() map[string]crypto.WalletKeyset {
	keysets := make(map[string]crypto.WalletKeyset)

	if err := db.bolt.View(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))

		c := keysetsb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var keyset crypto.WalletKeyset
			if err := json.Unmarshal(v, &keyset); err != nil {
				return fmt.Errorf("error getting keysets: %v", err)
			}
			keysets[keyset.Id] = keyset
		}
		return nil
	}); err != nil {
		return nil
	}

	return keysets
}

func (db *BoltDB) SaveInvoice(invoice lightning.Invoice) error {
	jsonInvoice, err := json.Marshal(invoice)
	if err != nil {
		return fmt.Errorf("invalid invoice: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		invoicesb := tx.Bucket([]byte(invoicesBucket))
		return invoicesb.Put([]byte(invoice.Id), jsonInvoice)
	})
}

func (db *BoltDB) GetInvoice(paymentRequest string) *lightning.Invoice {
	var invoice *lightning.Invoice

	if err := db.bolt.View(func(tx *bolt.Tx) error {
		invoicesb := tx.Bucket([]byte(invoicesBucket))

		c := invoicesb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var stored lightning.Invoice
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("error getting invoice: %v", err)
			}
			if stored.PaymentRequest == paymentRequest {
				invoice = &stored
				break
			}
		}
		return nil
	}); err != nil {
		return nil
	}

	return invoice
}

func (db *BoltDB) GetInvoiceByQuoteId(quoteId string) *lightning.Invoice {
	var invoice *lightning.Invoice

	if err := db.bolt.View(func(tx *bolt.Tx) error {
		invoicesb := tx.Bucket([]byte(invoicesBucket))

		invoiceBytes := invoicesb.Get([]byte(quoteId))
		if invoiceBytes == nil {
			return nil
		}

		var stored lightning.Invoice
		if err := json.Unmarshal(invoiceBytes, &stored); err != nil {
			return fmt.Errorf("error getting invoice: %v", err)
		}
		invoice = &stored
		return nil
	}); err != nil {
		return nil
	}

	return invoice
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}
