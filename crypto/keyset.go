package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// WalletKeyset is a keyset from the perspective of a wallet:
// only the mint's public keys for each amount.
type WalletKeyset struct {
	Id         string
	MintURL    string
	Unit       string
	Active     bool
	PublicKeys map[uint64]*btcec.PublicKey
}

// MapPubKeys parses a map of amount to hex public key
// as returned by the mint's /v1/keys endpoint.
func MapPubKeys(keys map[uint64]string) (map[uint64]*btcec.PublicKey, error) {
	parsedKeys := make(map[uint64]*btcec.PublicKey, len(keys))
	for amount, key := range keys {
		pkbytes, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("invalid public key: %v", err)
		}
		pubkey, err := btcec.ParsePubKey(pkbytes)
		if err != nil {
			return nil, fmt.Errorf("invalid public key: %v", err)
		}
		parsedKeys[amount] = pubkey
	}
	return parsedKeys, nil
}

// ParseKeyList parses keys persisted in the ledger as a list of
// "amount:pubkey" entries into an amount to hex public key map.
func ParseKeyList(keys []string) (map[uint64]string, error) {
	parsed := make(map[uint64]string, len(keys))
	for _, entry := range keys {
		amountStr, pubkey, found := strings.Cut(entry, ":")
		if !found {
			return nil, fmt.Errorf("malformed keyset entry '%v'", entry)
		}
		amount, err := strconv.ParseUint(amountStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed amount in keyset entry '%v'", entry)
		}
		parsed[amount] = pubkey
	}
	return parsed, nil
}

type walletKeysetJSON struct {
	Id         string            `json:"id"`
	MintURL    string            `json:"mint_url"`
	Unit       string            `json:"unit"`
	Active     bool              `json:"active"`
	PublicKeys map[uint64]string `json:"public_keys"`
}

func (ks WalletKeyset) MarshalJSON() ([]byte, error) {
	keys := make(map[uint64]string, len(ks.PublicKeys))
	for amount, pubkey := range ks.PublicKeys {
		keys[amount] = hex.EncodeToString(pubkey.SerializeCompressed())
	}
	return json.Marshal(walletKeysetJSON{
		Id:         ks.Id,
		MintURL:    ks.MintURL,
		Unit:       ks.Unit,
		Active:     ks.Active,
		PublicKeys: keys,
	})
}

func (ks *WalletKeyset) UnmarshalJSON(data []byte) error {
	var temp walletKeysetJSON
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	keys, err := MapPubKeys(temp.PublicKeys)
	if err != nil {
		return err
	}

	ks.Id = temp.Id
	ks.MintURL = temp.MintURL
	ks.Unit = temp.Unit
	ks.Active = temp.Active
	ks.PublicKeys = keys
	return nil
}

// DeriveKeysetId returns the id derived from the keyset's public keys
// sorted by amount.
func DeriveKeysetId(keys map[uint64]*btcec.PublicKey) string {
	amounts := make([]uint64, len(keys))
	i := 0
	for amount := range keys {
		amounts[i] = amount
		i++
	}
	sort.Slice(amounts, func(i, j int) bool {
		return amounts[i] < amounts[j]
	})

	pubkeys := make([]byte, 0)
	for _, amount := range amounts {
		pubkeys = append(pubkeys, keys[amount].SerializeCompressed()...)
	}
	hash := sha256.Sum256(pubkeys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}
