// Package ledger defines the persistent ledger that backs the hosted
// side of the wallet: users, mint keysets, mint quotes and the proofs
// credited to each user.
package ledger

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicateProof is returned when inserting a proof whose
	// secret is already in the ledger. A redemption that hits it was
	// already credited and must not be retried.
	ErrDuplicateProof = errors.New("duplicate proof")
)

type User struct {
	Id     int64
	Pubkey string
}

// Keyset is a mint keyset as persisted in the ledger. Keys holds
// "amount:pubkey" entries.
type Keyset struct {
	Id      string
	MintURL string
	Unit    string
	Keys    []string
}

// MintQuote is a pending or settled request to mint proofs. Quotes are
// never deleted; Paid flips to true exactly once, when the redemption
// job confirms settlement with the mint.
type MintQuote struct {
	Id        string
	Pubkey    string
	Amount    uint64
	KeysetId  string
	Paid      bool
	Expiry    uint64
	CreatedAt int64
}

type Proof struct {
	Secret   string
	Amount   uint64
	C        string
	KeysetId string
	UserId   int64
}

type DB interface {
	SaveUser(pubkey string) (User, error)
	GetUserByPubkey(pubkey string) (User, error)

	SaveKeyset(Keyset) error
	GetKeyset(id string) (Keyset, error)

	SaveMintQuote(MintQuote) error
	GetMintQuote(id string) (MintQuote, error)
	// GetPendingMintQuotes returns unpaid quotes whose expiry has not
	// elapsed.
	GetPendingMintQuotes() ([]MintQuote, error)
	MarkMintQuotePaid(id string) error

	// SaveProofs inserts all records in one transaction and returns
	// ErrDuplicateProof if any secret is already present.
	SaveProofs([]Proof) error
	GetProofsByUser(userId int64) ([]Proof, error)

	Close()
}
