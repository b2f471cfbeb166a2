package lightning

import (
	"crypto/rand"
	"crypto/sha256"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
)

// CreateFakeInvoice encodes a signed bolt11 invoice for the given
// millisat amount. Used by tests and fake mint backends, it carries a
// random payment hash and a throwaway signing key.
func CreateFakeInvoice(amountMsat uint64) (string, error) {
	var random [32]byte
	_, err := rand.Read(random[:])
	if err != nil {
		return "", err
	}
	paymentHash := sha256.Sum256(random[:])

	invoice, err := zpay32.NewInvoice(
		&chaincfg.SigNetParams,
		paymentHash,
		time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(amountMsat)),
		zpay32.Description("test"),
	)
	if err != nil {
		return "", err
	}

	return invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return []byte{}, err
			}
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
}
