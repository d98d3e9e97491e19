package deeplink

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"walletlink/go-client/internal/contracts"
	"walletlink/go-client/internal/crypto"
	"walletlink/go-client/internal/metrics"
	"walletlink/go-client/internal/platform/ratelimiter"
	"walletlink/go-client/internal/session"
	"walletlink/go-client/pkg/models"
)

const (
	routerComponentName = "deeplink"
	defaultEventBuffer  = 32
)

type RouterOptions struct {
	Machine     *session.Machine
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Limiter     *ratelimiter.KeyedLimiter
	EventBuffer int
	Now         func() time.Time
}

// Router classifies inbound wallet redirects and applies them to the session.
// It is meant to be driven from a single goroutine.
type Router struct {
	machine *session.Machine
	logger  *slog.Logger
	metrics *metrics.Metrics
	limiter *ratelimiter.KeyedLimiter
	now     func() time.Time
	events  chan models.Event
}

func NewRouter(opts RouterOptions) *Router {
	r := &Router{
		machine: opts.Machine,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		limiter: opts.Limiter,
		now:     opts.Now,
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.now == nil {
		r.now = time.Now
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	r.events = make(chan models.Event, buffer)
	return r
}

// Events delivers classified wallet responses. Events that do not fit in
// the buffer are dropped.
func (r *Router) Events() <-chan models.Event {
	return r.events
}

// OnIncomingURL handles a launch or runtime deep link. input may be a URL
// string, a models.LinkEvent, or a *url.URL; anything else is ignored.
func (r *Router) OnIncomingURL(input any) {
	raw, ok := normalizeInput(input)
	if !ok {
		r.logWarn("normalize", "ignoring inbound link of unsupported type", "type", fmt.Sprintf("%T", input))
		return
	}
	if !strings.Contains(raw, "?") {
		r.logInfo("parse", "deep link without query", "url", raw)
		return
	}

	u, err := url.Parse(raw)
	var query url.Values
	if err == nil {
		query, err = url.ParseQuery(u.RawQuery)
	}
	if err != nil {
		r.metrics.ObserveInbound("malformed")
		if r.allow("malformed", "") {
			r.logWarn("parse", "malformed deep link treated as unrecognized", "error", contracts.MalformedURL(err).Error())
		}
		return
	}

	resp := Classify(query, r.machine.HasSharedSecret())
	r.metrics.ObserveInbound(resp.Shape.String())
	switch resp.Shape {
	case ShapeError:
		if r.allow(resp.Shape.String(), linkTarget(u)) {
			r.handleError(resp)
		}
	case ShapeConnect:
		r.handleConnect(resp)
	case ShapeEncrypted:
		r.handleEncrypted(resp)
	default:
		if r.allow(resp.Shape.String(), linkTarget(u)) {
			r.logDebug("classify", "unrecognized deep link", "params", paramNames(query))
		}
	}
}

// allow throttles links nothing can authenticate. Connect and encrypted
// responses are never throttled: only the wallet can produce one that
// decrypts, so a flood of junk cannot crowd them out.
func (r *Router) allow(kind, target string) bool {
	d := r.limiter.Allow(ratelimiter.Key{Kind: kind, Target: target}, r.now())
	if d.Allowed {
		if d.Suppressed > 0 {
			r.logInfo("throttle", "inbound deep links resumed", "kind", kind, "target", target, "suppressed", d.Suppressed)
		}
		return true
	}
	r.metrics.ObserveThrottled()
	if d.Report {
		r.logWarn("throttle", "inbound deep links throttled", "kind", kind, "target", target)
	}
	return false
}

func linkTarget(u *url.URL) string {
	return u.Scheme + "://" + u.Host + u.Path
}

func normalizeInput(input any) (string, bool) {
	var raw string
	switch v := input.(type) {
	case string:
		raw = v
	case models.LinkEvent:
		raw = v.URL
	case *models.LinkEvent:
		if v == nil {
			return "", false
		}
		raw = v.URL
	case *url.URL:
		if v == nil {
			return "", false
		}
		raw = v.String()
	default:
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (r *Router) handleError(resp Response) {
	remoteErr := &contracts.RemoteError{Code: resp.ErrorCode, Message: resp.ErrorMessage}
	r.logWarn("remote_error", "wallet reported an error", "error_code", resp.ErrorCode, "error_message", resp.ErrorMessage)
	// Only a half-open exchange is tied to the request that failed; an
	// established session is left alone.
	if r.machine.State() == session.StateKeyExchanged {
		if err := r.machine.AbortKeyExchange(); err != nil {
			r.logError("remote_error", "clear half-open session failed", err)
		}
	}
	r.emit(models.Event{
		Kind:         models.EventRemoteError,
		ErrorCode:    resp.ErrorCode,
		ErrorMessage: resp.ErrorMessage,
		Err:          remoteErr,
	})
}

func (r *Router) handleConnect(resp Response) {
	kp, ok := r.machine.KeyPair()
	if !ok {
		// The attempt this answers was abandoned (or its key pair was lost).
		r.logInfo("connect", "connect response without pending attempt dropped")
		return
	}
	secret, err := crypto.DeriveSharedSecret(resp.WalletEncryptionPublicKey, &kp.SecretKey)
	kp.Wipe()
	if err != nil {
		r.metrics.ObserveDecryptFailure("key_exchange")
		if r.machine.State() == session.StateConnected {
			// Nothing is pending; the established session stays as is.
			r.logWarn("connect", "stale connect response dropped", "error", err.Error())
			return
		}
		r.logWarn("connect", "key exchange failed", "error", err.Error())
		if abortErr := r.machine.AbortKeyExchange(); abortErr != nil {
			r.logError("connect", "clear half-open session failed", abortErr)
		}
		r.emit(models.Event{Kind: models.EventDecryptionFailed, Err: contracts.Decryption(err)})
		return
	}
	defer secret.Wipe()

	if r.isDuplicateConnect(resp, secret) {
		r.logDebug("connect", "duplicate connect response ignored", "wallet_encryption_public_key", resp.WalletEncryptionPublicKey)
		return
	}

	state := r.machine.State()
	if resp.Data == "" {
		if state == session.StateConnected {
			r.logInfo("connect", "stale connect response dropped while connected")
			return
		}
		if err := r.machine.CompleteKeyExchange(resp.WalletEncryptionPublicKey, resp.Nonce, secret); err != nil {
			r.logError("connect", "record key exchange failed", err)
			return
		}
		r.emit(models.Event{Kind: models.EventKeyExchanged})
		return
	}

	payload, err := openWalletPayload(resp, secret)
	if err == nil && payload.PublicKey == "" {
		err = fmt.Errorf("%w: connect data without public_key", crypto.ErrDecryptionFailed)
	}
	if err != nil {
		r.metrics.ObserveDecryptFailure("connect")
		if state == session.StateConnected {
			r.logWarn("connect", "stale connect response dropped", "error", err.Error())
			return
		}
		r.logWarn("connect", "connect data could not be decrypted", "error", err.Error())
		if kxErr := r.machine.CompleteKeyExchange(resp.WalletEncryptionPublicKey, resp.Nonce, secret); kxErr != nil {
			r.logError("connect", "record key exchange failed", kxErr)
		}
		r.emit(models.Event{Kind: models.EventDecryptionFailed, Err: contracts.Decryption(err)})
		return
	}

	remote := session.Session{
		WalletEncryptionPublicKey: resp.WalletEncryptionPublicKey,
		Nonce:                     resp.Nonce,
		Token:                     payload.Session,
	}
	if err := r.machine.Connect(remote, secret, payload.PublicKey); err != nil {
		r.logError("connect", "establish session failed", err)
		return
	}
	r.logInfo("connect", "wallet connected", "wallet_public_key", payload.PublicKey)
	r.emit(models.Event{Kind: models.EventConnected, WalletPublicKey: payload.PublicKey})
}

// isDuplicateConnect reports a replay of the response that produced the
// current exchange: same wallet key, same nonce, same derived secret.
func (r *Router) isDuplicateConnect(resp Response, secret crypto.SharedSecret) bool {
	remote, ok := r.machine.Remote()
	if !ok {
		return false
	}
	if remote.WalletEncryptionPublicKey != resp.WalletEncryptionPublicKey || remote.Nonce != resp.Nonce {
		return false
	}
	current, ok := r.machine.SharedSecret()
	defer current.Wipe()
	return ok && current == secret
}

func (r *Router) handleEncrypted(resp Response) {
	secret, ok := r.machine.SharedSecret()
	if !ok {
		r.logDebug("encrypted", "encrypted response without shared secret dropped")
		return
	}
	defer secret.Wipe()

	payload, err := openWalletPayload(resp, secret)
	if err != nil {
		r.metrics.ObserveDecryptFailure("encrypted")
		r.logWarn("encrypted", "dropping wallet response that failed to decrypt", "error", contracts.Decryption(err).Error())
		return
	}
	if payload.Empty() {
		r.logInfo("encrypted", "wallet response carried no known fields")
		return
	}

	if payload.PublicKey != "" {
		if err := r.machine.ConfirmWallet(payload.PublicKey, payload.Session); err != nil {
			r.logError("encrypted", "confirm wallet failed", err)
		} else {
			r.emit(models.Event{Kind: models.EventConnected, WalletPublicKey: payload.PublicKey})
		}
	}
	if payload.Signature != "" {
		r.logInfo("encrypted", "signature received")
		r.emit(models.Event{Kind: models.EventSignature, Signature: payload.Signature})
	}
	if payload.Transaction != "" {
		r.logInfo("encrypted", "transaction received")
		r.emit(models.Event{Kind: models.EventTransaction, Transaction: payload.Transaction})
	}
}

func openWalletPayload(resp Response, secret crypto.SharedSecret) (crypto.WalletPayload, error) {
	raw, err := crypto.DecryptPayload(resp.Data, resp.Nonce, &secret)
	if err != nil {
		return crypto.WalletPayload{}, err
	}
	return crypto.DecodeWalletPayload(raw)
}

func (r *Router) emit(ev models.Event) {
	ev.ReceivedAt = r.now().UTC()
	select {
	case r.events <- ev:
	default:
		r.metrics.ObserveDroppedEvent()
		r.logWarn("emit", "event dropped; host is not draining events", "kind", string(ev.Kind))
	}
}

func paramNames(q url.Values) []string {
	names := make([]string, 0, len(q))
	for k := range q {
		names = append(names, k)
	}
	return names
}

func (r *Router) logDebug(operation, message string, attrs ...any) {
	r.logger.Debug(message, append([]any{"component", routerComponentName, "operation", operation}, attrs...)...)
}

func (r *Router) logInfo(operation, message string, attrs ...any) {
	r.logger.Info(message, append([]any{"component", routerComponentName, "operation", operation}, attrs...)...)
}

func (r *Router) logWarn(operation, message string, attrs ...any) {
	r.logger.Warn(message, append([]any{"component", routerComponentName, "operation", operation}, attrs...)...)
}

func (r *Router) logError(operation, message string, err error) {
	r.logger.Error(message, "component", routerComponentName, "operation", operation,
		"category", contracts.ErrorCategory(err), "error", err.Error())
}
