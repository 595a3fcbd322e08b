// Package app wires configuration, transport, store and fallback into one
// running client.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"qaboard/internal/api"
	"qaboard/internal/board"
	"qaboard/internal/clock"
	"qaboard/internal/config"
	"qaboard/internal/logging"
	"qaboard/internal/metrics"
	"qaboard/internal/push"
	"qaboard/internal/reconcile"
	"qaboard/internal/session"
)

// ErrClosed is returned by Start once Shutdown has run.
var ErrClosed = errors.New("app: shut down")

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	API     *api.Client
	Store   *board.Store
	Writes  *reconcile.Coordinator
	Poller  *reconcile.Poller
	Push    *push.Manager
	Session *session.FileStore

	registry  *prometheus.Registry
	stateCh   chan push.State
	newQuesCh chan board.Question

	mu     sync.Mutex
	user   *session.User
	closed bool
	cancel context.CancelFunc

	// lifecycle orders opening the channel in Start against Shutdown.
	lifecycle sync.Mutex
	wg        sync.WaitGroup
}

type Deps struct {
	Clock  clock.Clock
	Dialer push.Dialer
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) (*App, error) {
	logger = logging.OrDiscard(logger).With("session_id", uuid.NewString())
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	client, err := api.New(cfg.APIURL, api.Options{
		Timeout: cfg.RequestTimeout,
		Rate:    cfg.RequestRate,
		Burst:   cfg.RequestBurst,
		Logger:  logger.With("component", "api"),
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
		API:       client,
		Session:   session.NewFileStore(cfg.SessionFile),
		registry:  reg,
		stateCh:   make(chan push.State, 16),
		newQuesCh: make(chan board.Question, 16),
	}
	a.Store = board.NewStore(client, board.WithLogger(logger.With("component", "store")))
	a.Writes = reconcile.NewCoordinator(client, a.Store, logger.With("component", "writes"), m)
	a.Poller = reconcile.NewPoller(client, a.Store,
		reconcile.WithPollClock(deps.Clock),
		reconcile.WithPollInterval(cfg.PollInterval),
		reconcile.WithPollTimeout(cfg.RequestTimeout),
		reconcile.WithPollLogger(logger.With("component", "poller")),
		reconcile.WithPollMetrics(m),
	)
	router := push.NewRouter(a.Store,
		push.WithRouterLogger(logger.With("component", "router")),
		push.WithRouterMetrics(m),
		push.OnNewQuestion(a.announce),
	)
	a.Push = push.NewManager(cfg.WSURL, router,
		push.WithClock(deps.Clock),
		push.WithDialer(deps.Dialer),
		push.WithReconnectDelay(cfg.ReconnectDelay),
		push.WithKeepalive(cfg.KeepaliveInterval),
		push.WithFallback(a.Poller),
		push.WithLogger(logger.With("component", "push")),
		push.WithMetrics(m),
		push.WithStateListener(a.publishState),
	)
	return a, nil
}

// Start loads the stored user and the initial question list concurrently,
// then opens the push channel. A push dial failure is not fatal: the
// manager is already retrying and the poller is running. After Shutdown,
// Start opens nothing and returns ErrClosed.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := a.Session.Load()
		if err != nil {
			a.Logger.Warn("stored session unreadable, continuing as guest", "err", err)
			return nil
		}
		a.setUser(u)
		return nil
	})
	g.Go(func() error {
		qs, err := a.API.ListQuestions(gctx)
		if err != nil {
			return fmt.Errorf("initial question fetch: %w", err)
		}
		a.Store.ReplaceQuestions(qs)
		return nil
	})
	fetchErr := g.Wait()

	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	if a.isClosed() {
		return ErrClosed
	}
	if fetchErr != nil {
		a.Logger.Warn("starting without question list", "err", fetchErr)
	}

	if a.Config.MetricsAddr != "" {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := metrics.Serve(ctx, a.Config.MetricsAddr, a.registry); err != nil {
				a.Logger.Error("metrics server stopped", "err", err)
			}
		}()
	}

	if err := a.Push.Start(ctx); err != nil && !errors.Is(err, push.ErrStopped) {
		a.Logger.Warn("push channel unavailable, retrying", "err", err)
	}
	return fetchErr
}

func (a *App) Shutdown() {
	a.mu.Lock()
	a.closed = true
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	a.lifecycle.Lock()
	a.Push.Stop()
	a.Poller.Stop()
	a.lifecycle.Unlock()
	a.Poller.Wait()
	a.wg.Wait()
}

func (a *App) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// StateUpdates carries push state transitions. Slow readers miss
// intermediate states; State() on the manager is always current.
func (a *App) StateUpdates() <-chan push.State { return a.stateCh }

// NewQuestions carries questions first seen on the push channel.
func (a *App) NewQuestions() <-chan board.Question { return a.newQuesCh }

func (a *App) publishState(s push.State) {
	select {
	case a.stateCh <- s:
	default:
	}
}

func (a *App) announce(q board.Question) {
	select {
	case a.newQuesCh <- q:
	default:
	}
}

func (a *App) User() *session.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}

func (a *App) setUser(u *session.User) {
	a.mu.Lock()
	a.user = u
	a.mu.Unlock()
}

func (a *App) AuthorID() board.ID {
	if u := a.User(); u != nil {
		return u.UserID
	}
	return ""
}

func (a *App) Logout() error {
	if err := a.Session.Clear(); err != nil {
		return err
	}
	a.setUser(nil)
	return nil
}
