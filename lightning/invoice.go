// Package lightning deals with bolt11 payment requests.
package lightning

import (
	"errors"
	"fmt"

	decodepay "github.com/nbd-wtf/ln-decodepay"
)

var ErrMalformedInvoice = errors.New("malformed invoice")

// Invoice represents a lightning invoice tied to a mint quote.
type Invoice struct {
	Id             string
	PaymentRequest string
	Amount         uint64
	Expiry         uint64
	Settled        bool
}

// ParseInvoiceAmount extracts the amount requested by a bolt11 payment
// request, in sats. The native millisat amount is divided by 1000 and
// any sub-sat remainder is truncated.
func ParseInvoiceAmount(request string) (uint64, error) {
	invoice, err := decodepay.Decodepay(request)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedInvoice, err)
	}
	if invoice.MSatoshi <= 0 {
		return 0, ErrMalformedInvoice
	}

	return uint64(invoice.MSatoshi) / 1000, nil
}
