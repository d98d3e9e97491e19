package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"walletlink/go-client/internal/contracts"
	"walletlink/go-client/internal/crypto"
	"walletlink/go-client/internal/deeplink"
	"walletlink/go-client/internal/metrics"
	"walletlink/go-client/internal/session"
	"walletlink/go-client/pkg/models"
)

const dispatcherComponentName = "dispatch"

var ErrNotConfigured = errors.New("dispatcher is not configured")

type Options struct {
	Machine      *session.Machine
	Keys         crypto.KeyPairProvider
	Opener       Opener
	BaseURL      string
	Cluster      string
	AppURL       string
	RedirectLink string
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Dispatcher builds wallet requests from the current session and hands them
// to an Opener. Requests are fire-and-forget: responses arrive through the
// deep-link router.
type Dispatcher struct {
	machine      *session.Machine
	keys         crypto.KeyPairProvider
	opener       Opener
	baseURL      string
	cluster      string
	appURL       string
	redirectLink string
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

func New(opts Options) (*Dispatcher, error) {
	if opts.Machine == nil || opts.Opener == nil {
		return nil, ErrNotConfigured
	}
	d := &Dispatcher{
		machine:      opts.Machine,
		keys:         opts.Keys,
		opener:       opts.Opener,
		baseURL:      strings.TrimSpace(opts.BaseURL),
		cluster:      models.NormalizeCluster(opts.Cluster),
		appURL:       strings.TrimSpace(opts.AppURL),
		redirectLink: strings.TrimSpace(opts.RedirectLink),
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
	if d.keys == nil {
		d.keys = crypto.NewKeyPairProvider(nil)
	}
	if d.baseURL == "" {
		d.baseURL = deeplink.DefaultBaseURL
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return d, nil
}

// Connect starts a new key exchange. A previous session or pending attempt is
// replaced; only the latest attempt's response can complete.
//
// The previous session is dropped before the request is handed to the
// wallet, because the wallet may restart the process through the redirect
// before OpenURL returns and the new key pair must already be persisted.
// A failed hand-off therefore leaves the client disconnected. If the new
// attempt cannot be persisted, nothing is sent and the previous session
// stays in place.
func (d *Dispatcher) Connect(ctx context.Context) error {
	kp, err := d.keys.Generate()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}
	defer kp.Wipe()
	if err := d.machine.BeginConnect(kp); err != nil {
		return err
	}

	var params deeplink.Params
	params.Add(deeplink.ParamDappEncryptionPublicKey, kp.PublicKeyBase58())
	params.Add(deeplink.ParamCluster, d.cluster)
	params.Add(deeplink.ParamAppURL, d.appURL)
	params.Add(deeplink.ParamRedirectLink, d.redirectLink)
	return d.send(ctx, deeplink.PathConnect, params)
}

// Disconnect asks the wallet to drop the session and clears local state once
// the request has been handed off.
func (d *Dispatcher) Disconnect(ctx context.Context) error {
	s, ok := d.machine.Session()
	if !ok {
		return d.precondition(deeplink.PathDisconnect, contracts.ErrNoSession)
	}
	params, err := d.encryptedParams(deeplink.PathDisconnect, sessionPayload{Session: s.Token})
	if err != nil {
		return err
	}
	if err := d.send(ctx, deeplink.PathDisconnect, params); err != nil {
		return err
	}
	return d.machine.Disconnect()
}

// SignMessage asks the wallet to sign text. The signature arrives later as an
// EventSignature.
func (d *Dispatcher) SignMessage(ctx context.Context, text string) error {
	payload := signMessagePayload{
		Message: crypto.EncodeBase58([]byte(text)),
		Session: d.sessionToken(),
	}
	params, err := d.encryptedParams(deeplink.PathSignMessage, payload)
	if err != nil {
		return err
	}
	return d.send(ctx, deeplink.PathSignMessage, params)
}

// SignAndSendTransaction forwards a base58 serialized transaction. The
// transaction is opaque here; the wallet answers with a signature.
func (d *Dispatcher) SignAndSendTransaction(ctx context.Context, transactionB58, description string) error {
	transactionB58 = strings.TrimSpace(transactionB58)
	if _, err := crypto.DecodeBase58(transactionB58); err != nil {
		return contracts.Precondition(fmt.Errorf("transaction: %w", err))
	}
	payload := transactionPayload{
		Transaction: transactionB58,
		Message:     description,
		Session:     d.sessionToken(),
	}
	params, err := d.encryptedParams(deeplink.PathSignAndSendTransaction, payload)
	if err != nil {
		return err
	}
	return d.send(ctx, deeplink.PathSignAndSendTransaction, params)
}

type sessionPayload struct {
	Session string `json:"session,omitempty"`
}

type signMessagePayload struct {
	Message string `json:"message"`
	Session string `json:"session,omitempty"`
}

type transactionPayload struct {
	Transaction string `json:"transaction"`
	Message     string `json:"message,omitempty"`
	Session     string `json:"session,omitempty"`
}

func (d *Dispatcher) sessionToken() string {
	remote, ok := d.machine.Remote()
	if !ok {
		return ""
	}
	return remote.Token
}

func (d *Dispatcher) encryptedParams(path deeplink.Path, payload any) (deeplink.Params, error) {
	kp, ok := d.machine.KeyPair()
	secret, hasSecret := d.machine.SharedSecret()
	defer kp.Wipe()
	defer secret.Wipe()
	if !ok || !hasSecret {
		return nil, d.precondition(path, contracts.ErrNoSharedSecret)
	}

	nonce, sealed, err := crypto.EncryptPayload(payload, &secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt %s payload: %w", path, err)
	}
	var params deeplink.Params
	params.Add(deeplink.ParamDappEncryptionPublicKey, kp.PublicKeyBase58())
	params.Add(deeplink.ParamNonce, crypto.EncodeBase58(nonce[:]))
	params.Add(deeplink.ParamRedirectLink, d.redirectLink)
	params.Add(deeplink.ParamPayload, crypto.EncodeBase58(sealed))
	return params, nil
}

func (d *Dispatcher) precondition(path deeplink.Path, err error) error {
	d.logger.Warn("wallet request rejected locally",
		"component", dispatcherComponentName, "operation", string(path), "error", err.Error())
	return contracts.Precondition(err)
}

func (d *Dispatcher) send(ctx context.Context, path deeplink.Path, params deeplink.Params) error {
	target, err := deeplink.BuildURL(d.baseURL, path, params)
	if err != nil {
		return contracts.Precondition(err)
	}
	if err := d.opener.OpenURL(ctx, target); err != nil {
		d.metrics.ObserveOutbound(string(path), err)
		d.logger.Error("wallet hand-off failed",
			"component", dispatcherComponentName, "operation", string(path), "error", err.Error())
		return contracts.Dispatch(fmt.Errorf("%w: %v", contracts.ErrWalletUnavailable, err))
	}
	d.metrics.ObserveOutbound(string(path), nil)
	d.logger.Info("wallet request sent",
		"component", dispatcherComponentName, "operation", string(path))
	return nil
}
