package storage

import (
	"github.com/ecashapp/satchel/cashu"
	"github.com/ecashapp/satchel/crypto"
	"github.com/ecashapp/satchel/lightning"
)

// DB is the wallet's local bearer storage. UpdateProofs applies the
// removal and insertion as a single atomic change so a reader can never
// observe proofs gone without their replacement.
type DB interface {
	GetProofs() cashu.Proofs
	SaveProofs(cashu.Proofs) error
	UpdateProofs(remove cashu.Proofs, add cashu.Proofs) error
	SaveKeyset(crypto.WalletKeyset) error
	GetKeysets() map[string]crypto.WalletKeyset
	SaveInvoice(lightning.Invoice) error
	GetInvoice(paymentRequest string) *lightning.Invoice
	GetInvoiceByQuoteId(quoteId string) *lightning.Invoice
	Close() error
}
