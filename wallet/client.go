package wallet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ecashapp/satchel/cashu"
	"github.com/ecashapp/satchel/crypto"
)

// Typed outcomes mapped from the mint's error responses.
var (
	// ErrQuoteNotPaid is returned when minting is attempted against a
	// quote whose invoice has not been settled yet. It is an expected
	// polling state, not a failure.
	ErrQuoteNotPaid = errors.New("quote request has not been paid")

	// ErrQuoteAlreadyIssued is returned when proofs were already
	// minted for the quote.
	ErrQuoteAlreadyIssued = errors.New("quote already issued")

	// ErrPaymentFailed is returned when the mint rejected or could not
	// complete a payment submitted with proofs.
	ErrPaymentFailed = errors.New("payment failed")
)

// MintClient is the request/response contract with the mint. The mint
// is an opaque remote service: it mints proofs against paid quotes,
// swaps proofs and settles bolt11 invoices with them.
type MintClient interface {
	RequestMintQuote(amount uint64) (*MintQuoteResponse, error)
	GetMintQuoteState(quoteId string) (*MintQuoteResponse, error)
	MintProofs(amount uint64, quoteId, keysetId string) (cashu.Proofs, error)
	MeltQuote(request string) (*MeltQuoteResponse, error)
	Melt(quoteId string, proofs cashu.Proofs) (*MeltResponse, error)
	Swap(proofs cashu.Proofs, amounts []uint64, keysetId string) (cashu.Proofs, error)
}

type MintQuoteResponse struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	Paid    bool   `json:"paid"`
	Expiry  uint64 `json:"expiry"`
}

type PostMintRequest struct {
	Quote    string `json:"quote"`
	Amount   uint64 `json:"amount"`
	KeysetId string `json:"keyset_id"`
}

type PostMintResponse struct {
	Proofs cashu.Proofs `json:"proofs"`
}

type MeltQuoteResponse struct {
	Quote      string `json:"quote"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	Paid       bool   `json:"paid"`
	Expiry     uint64 `json:"expiry"`
}

type PostMeltRequest struct {
	Quote  string       `json:"quote"`
	Inputs cashu.Proofs `json:"inputs"`
}

type MeltResponse struct {
	Paid     bool   `json:"paid"`
	Preimage string `json:"payment_preimage"`
}

type PostSwapRequest struct {
	Inputs   cashu.Proofs `json:"inputs"`
	Amounts  []uint64     `json:"amounts"`
	KeysetId string       `json:"keyset_id"`
}

type PostSwapResponse struct {
	Proofs cashu.Proofs `json:"proofs"`
}

// HTTPMintClient talks to a mint over its REST API.
type HTTPMintClient struct {
	mintURL string
}

func NewMintClient(mintURL string) *HTTPMintClient {
	return &HTTPMintClient{mintURL: mintURL}
}

func (c *HTTPMintClient) RequestMintQuote(amount uint64) (*MintQuoteResponse, error) {
	mintQuoteRequest := struct {
		Amount uint64 `json:"amount"`
		Unit   string `json:"unit"`
	}{Amount: amount, Unit: cashu.Sat.String()}

	requestBody, err := json.Marshal(mintQuoteRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(c.mintURL+"/v1/mint/quote/bolt11", "application/json", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var mintQuoteResponse MintQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&mintQuoteResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &mintQuoteResponse, nil
}

func (c *HTTPMintClient) GetMintQuoteState(quoteId string) (*MintQuoteResponse, error) {
	resp, err := get(c.mintURL + "/v1/mint/quote/bolt11/" + quoteId)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var mintQuoteResponse MintQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&mintQuoteResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &mintQuoteResponse, nil
}

func (c *HTTPMintClient) MintProofs(amount uint64, quoteId, keysetId string) (cashu.Proofs, error) {
	mintRequest := PostMintRequest{Quote: quoteId, Amount: amount, KeysetId: keysetId}
	requestBody, err := json.Marshal(mintRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(c.mintURL+"/v1/mint/bolt11", "application/json", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var mintResponse PostMintResponse
	if err := json.NewDecoder(resp.Body).Decode(&mintResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return mintResponse.Proofs, nil
}

func (c *HTTPMintClient) MeltQuote(request string) (*MeltQuoteResponse, error) {
	meltQuoteRequest := struct {
		Request string `json:"request"`
		Unit    string `json:"unit"`
	}{Request: request, Unit: cashu.Sat.String()}

	requestBody, err := json.Marshal(meltQuoteRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(c.mintURL+"/v1/melt/quote/bolt11", "application/json", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var meltQuoteResponse MeltQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&meltQuoteResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &meltQuoteResponse, nil
}

func (c *HTTPMintClient) Melt(quoteId string, proofs cashu.Proofs) (*MeltResponse, error) {
	meltRequest := PostMeltRequest{Quote: quoteId, Inputs: proofs}
	requestBody, err := json.Marshal(meltRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(c.mintURL+"/v1/melt/bolt11", "application/json", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var meltResponse MeltResponse
	if err := json.NewDecoder(resp.Body).Decode(&meltResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &meltResponse, nil
}

func (c *HTTPMintClient) Swap(proofs cashu.Proofs, amounts []uint64, keysetId string) (cashu.Proofs, error) {
	swapRequest := PostSwapRequest{Inputs: proofs, Amounts: amounts, KeysetId: keysetId}
	requestBody, err := json.Marshal(swapRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(c.mintURL+"/v1/swap", "application/json", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var swapResponse PostSwapResponse
	if err := json.NewDecoder(resp.Body).Decode(&swapResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return swapResponse.Proofs, nil
}

type GetKeysResponse struct {
	Keysets []struct {
		Id     string            `json:"id"`
		Unit   string            `json:"unit"`
		Active bool              `json:"active"`
		Keys   map[uint64]string `json:"keys"`
	} `json:"keysets"`
}

// GetMintActiveKeysets fetches the mint's active keysets and validates
// that each advertised id matches the one derived from its keys.
func GetMintActiveKeysets(mintURL string) (map[string]crypto.WalletKeyset, error) {
	resp, err := get(mintURL + "/v1/keys")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var keysetsResponse GetKeysResponse
	if err := json.NewDecoder(resp.Body).Decode(&keysetsResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	activeKeysets := make(map[string]crypto.WalletKeyset)
	for _, keysetRes := range keysetsResponse.Keysets {
		keys, err := crypto.MapPubKeys(keysetRes.Keys)
		if err != nil {
			return nil, err
		}

		id := crypto.DeriveKeysetId(keys)
		if id != keysetRes.Id {
			return nil, fmt.Errorf("got invalid keyset. Derived id: '%v' but got '%v' from mint", id, keysetRes.Id)
		}

		activeKeysets[id] = crypto.WalletKeyset{
			Id:         id,
			MintURL:    mintURL,
			Unit:       keysetRes.Unit,
			Active:     true,
			PublicKeys: keys,
		}
	}

	return activeKeysets, nil
}

// GetMintInactiveKeysets fetches ids of keysets the mint no longer signs with.
func GetMintInactiveKeysets(mintURL string) (map[string]crypto.WalletKeyset, error) {
	resp, err := get(mintURL + "/v1/keysets")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var keysetsResponse GetKeysResponse
	if err := json.NewDecoder(resp.Body).Decode(&keysetsResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	inactiveKeysets := make(map[string]crypto.WalletKeyset)
	for _, keysetRes := range keysetsResponse.Keysets {
		if !keysetRes.Active {
			inactiveKeysets[keysetRes.Id] = crypto.WalletKeyset{
				Id:      keysetRes.Id,
				MintURL: mintURL,
				Unit:    keysetRes.Unit,
				Active:  false,
			}
		}
	}
	return inactiveKeysets, nil
}

func get(url string) (*http.Response, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}

	return parse(resp)
}

func httpPost(url, contentType string, body io.Reader) (*http.Response, error) {
	resp, err := http.Post(url, contentType, body)
	if err != nil {
		return nil, err
	}

	return parse(resp)
}

func parse(response *http.Response) (*http.Response, error) {
	if response.StatusCode == 400 {
		var errResponse cashu.Error
		err := json.NewDecoder(response.Body).Decode(&errResponse)
		if err != nil {
			return nil, fmt.Errorf("could not decode error response from mint: %v", err)
		}

		// map quote state codes to typed outcomes so callers do not
		// have to match on error text
		switch errResponse.Code {
		case cashu.MintQuoteRequestNotPaidErrCode:
			return nil, ErrQuoteNotPaid
		case cashu.MintQuoteAlreadyIssuedErrCode:
			return nil, ErrQuoteAlreadyIssued
		}
		return nil, errResponse
	}

	if response.StatusCode != 200 {
		body, err := io.ReadAll(response.Body)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s", body)
	}

	return response, nil
}
