package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"walletlink/go-client/internal/config"
	"walletlink/go-client/internal/crypto"
	"walletlink/go-client/internal/deeplink"
	"walletlink/go-client/internal/dispatch"
	"walletlink/go-client/internal/metrics"
	"walletlink/go-client/internal/platform/ratelimiter"
	"walletlink/go-client/internal/securestore"
	"walletlink/go-client/internal/session"
	"walletlink/go-client/pkg/models"
)

const (
	clientComponentName = "client"
	eventHistoryLimit   = 256
)

type Options struct {
	Config config.Config
	Opener dispatch.Opener
	Source LinkSource
	Logger *slog.Logger
	Keys   crypto.KeyPairProvider
	// Store overrides the store derived from Config.State.
	Store session.Store
	Now   func() time.Time
}

// Client wires the session machine, the inbound router and the outbound
// dispatcher for one wallet link.
type Client struct {
	cfg        config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	machine    *session.Machine
	router     *deeplink.Router
	dispatcher *dispatch.Dispatcher
	hub        *EventHub
	source     LinkSource

	runMu   sync.Mutex
	running bool
}

func New(opts Options) (*Client, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(io.Discard, cfg.Log.Level)
	}
	m := metrics.New()

	store := opts.Store
	if store == nil {
		var err error
		store, err = storeFromConfig(cfg.State)
		if err != nil {
			return nil, err
		}
	}
	machine, err := session.NewMachine(session.Options{
		Store:  store,
		Logger: logger,
		Now:    opts.Now,
		OnTransition: func(from, to session.State) {
			m.ObserveTransition(string(from), string(to))
		},
	})
	if err != nil {
		return nil, err
	}

	router := deeplink.NewRouter(deeplink.RouterOptions{
		Machine:     machine,
		Logger:      logger,
		Metrics:     m,
		Limiter:     ratelimiter.New(cfg.Inbound.RatePerSecond, cfg.Inbound.Burst, cfg.Inbound.IdleTTL),
		EventBuffer: cfg.Inbound.EventBuffer,
		Now:         opts.Now,
	})

	opener := opts.Opener
	if opener == nil {
		opener = dispatch.NewCommandOpener()
	}
	dispatcher, err := dispatch.New(dispatch.Options{
		Machine:      machine,
		Keys:         opts.Keys,
		Opener:       opener,
		BaseURL:      cfg.Wallet.BaseURL,
		Cluster:      cfg.Wallet.Cluster,
		AppURL:       cfg.Wallet.AppURL,
		RedirectLink: cfg.RedirectLink(),
		Logger:       logger,
		Metrics:      m,
	})
	if err != nil {
		return nil, err
	}

	source := opts.Source
	if source == nil {
		source = StaticSource{}
	}
	return &Client{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		machine:    machine,
		router:     router,
		dispatcher: dispatcher,
		hub:        NewEventHub(eventHistoryLimit),
		source:     source,
	}, nil
}

func storeFromConfig(cfg config.StateConfig) (session.Store, error) {
	if cfg.Path == "" {
		return session.NewMemoryStore(), nil
	}
	if cfg.Passphrase == "" {
		return session.NewFileStore(cfg.Path), nil
	}
	sealer, err := securestore.NewSealer(cfg.Passphrase, securestore.DefaultKDFParams())
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	return session.NewEncryptedFileStore(cfg.Path, sealer), nil
}

func (c *Client) Connect(ctx context.Context) error {
	return c.dispatcher.Connect(ctx)
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.dispatcher.Disconnect(ctx)
}

func (c *Client) SignMessage(ctx context.Context, text string) error {
	return c.dispatcher.SignMessage(ctx, text)
}

func (c *Client) SignAndSendTransaction(ctx context.Context, transactionB58, description string) error {
	return c.dispatcher.SignAndSendTransaction(ctx, transactionB58, description)
}

func (c *Client) Status() models.SessionStatus {
	return c.machine.Status()
}

func (c *Client) Subscribe(fromSeq int64) ([]NotificationEvent, <-chan NotificationEvent, func()) {
	return c.hub.Subscribe(fromSeq)
}

func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// HandleURL routes one inbound link outside of Run and returns the events it
// produced.
func (c *Client) HandleURL(input any) []models.Event {
	c.router.OnIncomingURL(input)
	return c.drain()
}

func (c *Client) drain() []models.Event {
	var out []models.Event
	for {
		select {
		case ev := <-c.router.Events():
			c.hub.Publish(ev)
			out = append(out, ev)
		default:
			return out
		}
	}
}

var ErrAlreadyRunning = errors.New("client is already running")

// Run handles the launch link, then every link the source delivers, one at a
// time, until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.runMu.Unlock()
	defer func() {
		c.runMu.Lock()
		c.running = false
		c.runMu.Unlock()
	}()

	inbound := newLinkQueue()
	stop := c.source.Listen(inbound.push)
	defer stop()

	launch, err := c.source.LaunchURL(ctx)
	if err != nil {
		c.logger.Warn("launch link unavailable", "component", clientComponentName, "operation", "run", "error", err.Error())
	} else if launch != "" {
		c.router.OnIncomingURL(launch)
	}
	c.drain()

	for {
		select {
		case <-ctx.Done():
			// Links delivered before cancellation are still handled.
			for _, input := range inbound.take() {
				c.router.OnIncomingURL(input)
				c.drain()
			}
			return nil
		case <-inbound.ready:
			for _, input := range inbound.take() {
				c.router.OnIncomingURL(input)
				c.drain()
			}
		}
	}
}

// linkQueue buffers links between a source handler and Run. push never
// blocks, so a slow router cannot stall the host.
type linkQueue struct {
	mu    sync.Mutex
	items []any
	ready chan struct{}
}

func newLinkQueue() *linkQueue {
	return &linkQueue{ready: make(chan struct{}, 1)}
}

func (q *linkQueue) push(input any) {
	q.mu.Lock()
	q.items = append(q.items, input)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *linkQueue) take() []any {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// FlushMetrics writes the metrics textfile when one is configured.
func (c *Client) FlushMetrics() error {
	if c.cfg.Metrics.TextfilePath == "" {
		return nil
	}
	if err := c.metrics.WriteTextfile(c.cfg.Metrics.TextfilePath); err != nil {
		c.logger.Warn("write metrics textfile failed", "component", clientComponentName, "operation", "metrics", "error", err.Error())
		return err
	}
	return nil
}
