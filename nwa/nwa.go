// Package nwa implements the nostr wallet auth handshake: a one-shot
// flow that delivers an encrypted payment request to a requesting
// application over a relay of the application's choosing.
package nwa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ecashapp/satchel/wallet"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

const (
	Scheme = "nostr+walletauth://"

	// KindWalletAuth is the parameterized replaceable event kind used
	// to deliver the encrypted invoice. The requesting app's pubkey in
	// the "d" tag is the replacement discriminator.
	KindWalletAuth = 33194
)

var (
	ErrInvalidURI = errors.New("invalid wallet auth uri")
	ErrNoRelay    = errors.New("no relay found")
	ErrNoInvoice  = errors.New("no invoice found")
)

// ConnectRequest is the parsed one-time wallet auth parameter. It is
// never persisted; it lives for a single handshake.
type ConnectRequest struct {
	AppPubkey        string
	Relay            string
	Secret           string
	RequiredCommands string
	Budget           string
	Identity         string
}

// ParseConnectURI parses a nostr+walletauth:// uri of the form
// <scheme><app pubkey>?relay=...&secret=...
func ParseConnectURI(raw string) (*ConnectRequest, error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	if !strings.HasPrefix(decoded, Scheme) {
		return nil, ErrInvalidURI
	}
	decoded = strings.TrimPrefix(decoded, Scheme)

	appPubkey, query, _ := strings.Cut(decoded, "?")
	if appPubkey == "" {
		return nil, ErrInvalidURI
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	return &ConnectRequest{
		AppPubkey:        appPubkey,
		Relay:            params.Get("relay"),
		Secret:           params.Get("secret"),
		RequiredCommands: params.Get("required_commands"),
		Budget:           params.Get("budget"),
		Identity:         params.Get("identity"),
	}, nil
}

// RelayConn is the publishing side of a relay connection.
// *nostr.Relay satisfies it.
type RelayConn interface {
	Publish(ctx context.Context, event nostr.Event) error
	Close() error
}

// Quoter requests mint quotes; *wallet.Wallet satisfies it.
type Quoter interface {
	RequestMint(amount uint64) (*wallet.MintQuoteResponse, error)
}

type Handshake struct {
	quoter  Quoter
	connect func(ctx context.Context, url string) (RelayConn, error)
	logger  *slog.Logger
}

func NewHandshake(quoter Quoter, logger *slog.Logger) *Handshake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handshake{quoter: quoter, connect: connectRelay, logger: logger}
}

func connectRelay(ctx context.Context, url string) (RelayConn, error) {
	return nostr.RelayConnect(ctx, url)
}

// Run performs the handshake once: request a mint quote for the
// amount, parse the wallet auth parameter, connect to the requested
// relay and publish the invoice encrypted to the app's pubkey under a
// fresh single-use identity. The relay connection is closed whether or
// not the publish succeeds. There is no retry; the requesting app is
// expected to time out and re-initiate if no event appears.
func (h *Handshake) Run(ctx context.Context, amount uint64, nwaParam string) error {
	if amount == 0 {
		h.logger.Debug("no amount requested, skipping wallet auth")
		return nil
	}

	quote, err := h.quoter.RequestMint(amount)
	if err != nil {
		h.logger.Error("could not request mint quote", slog.String("error", err.Error()))
		return err
	}
	if quote.Request == "" {
		h.logger.Error("mint quote has no invoice")
		return ErrNoInvoice
	}

	req, err := ParseConnectURI(nwaParam)
	if err != nil {
		h.logger.Error("could not parse wallet auth param", slog.String("error", err.Error()))
		return err
	}
	if req.Relay == "" {
		h.logger.Error("wallet auth param has no relay")
		return ErrNoRelay
	}

	conn, err := h.connect(ctx, req.Relay)
	if err != nil {
		h.logger.Error("could not connect to relay",
			slog.String("relay", req.Relay), slog.String("error", err.Error()))
		return err
	}
	defer conn.Close()

	event, err := buildAuthEvent(quote.Request, req.AppPubkey)
	if err != nil {
		h.logger.Error("could not build auth event", slog.String("error", err.Error()))
		return err
	}

	if err := conn.Publish(ctx, event); err != nil {
		h.logger.Error("could not publish auth event",
			slog.String("relay", req.Relay), slog.String("error", err.Error()))
		return err
	}

	h.logger.Info("published wallet auth event",
		slog.String("app", req.AppPubkey),
		slog.String("relay", req.Relay),
		slog.String("event", event.ID))

	return nil
}

// buildAuthEvent generates a fresh keypair used only for this event,
// encrypts the invoice to the app's pubkey and signs the event.
func buildAuthEvent(invoice, appPubkey string) (nostr.Event, error) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("nostr.GetPublicKey: %v", err)
	}

	sharedSecret, err := nip04.ComputeSharedSecret(appPubkey, sk)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("nip04.ComputeSharedSecret: %v", err)
	}

	content, err := nip04.Encrypt(invoice, sharedSecret)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("nip04.Encrypt: %v", err)
	}

	event := nostr.Event{
		PubKey:    pk,
		CreatedAt: nostr.Now(),
		Kind:      KindWalletAuth,
		Tags:      nostr.Tags{{"d", appPubkey}},
		Content:   content,
	}
	if err := event.Sign(sk); err != nil {
		return nostr.Event{}, fmt.Errorf("event.Sign: %v", err)
	}

	return event, nil
}
