package ibkr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
)

const (
	requestQueueSize = 100

	// Waiter-side timeout defaults. The worker never cancels an in-flight
	// broker call; these bound only how long a caller waits for the result.
	defaultCallTimeout = 8 * time.Second

	connectTimeout  = 10 * time.Second
	readyWait       = 5 * time.Second
	connectCooldown = 10 * time.Second
	connectWait     = connectTimeout + readyWait + 2*time.Second

	defaultOpenOrdersTTL = 2 * time.Second
)

// callJob is one serialized broker call in the request queue
type callJob struct {
	name     string
	fn       func(ctx context.Context) (interface{}, error)
	resultCh chan callResult
}

// callResult is the outcome of a broker call
type callResult struct {
	data interface{}
	err  error
}

// Bridge owns the broker session and serializes all access to it through a
// single worker goroutine. Callers enqueue requests and wait with a timeout;
// a waiter that gives up abandons only its wait. The in-flight call runs to
// completion and its result is still applied to the bridge caches.
type Bridge struct {
	session Session
	log     zerolog.Logger
	bus     *events.Bus

	requestQueue chan callJob
	stopChan     chan struct{}
	workerDone   chan struct{}
	startOnce    sync.Once
	stopOnce     sync.Once

	// Worker lifetime context, deliberately detached from any waiter.
	ctx    context.Context
	cancel context.CancelFunc

	connected atomic.Bool

	callTimeout time.Duration
	longTimeout time.Duration

	// lastAttempt and cooldown are touched only from the worker goroutine.
	lastAttempt time.Time
	cooldown    time.Duration

	// Caches owned by the bridge. The worker goroutine is the sole writer.
	cacheMu       sync.RWMutex
	positions     []domain.Position
	accountValues []domain.AccountValue

	orders openOrdersCache
}

// Config holds bridge construction options
type Config struct {
	Session Session
	Log     zerolog.Logger
	Bus     *events.Bus // Optional, nil disables status events

	// OpenOrdersTTL overrides the open-orders cache TTL (default 2s).
	OpenOrdersTTL time.Duration
	// Cooldown overrides the fixed wait between connect attempts (default 10s).
	Cooldown time.Duration
	// CallTimeout overrides the default waiter timeout (default 8s).
	CallTimeout time.Duration
}

// New creates a bridge around the given session. Call Start to launch the
// worker and attempt the initial connect.
func New(cfg Config) *Bridge {
	ttl := cfg.OpenOrdersTTL
	if ttl <= 0 {
		ttl = defaultOpenOrdersTTL
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = connectCooldown
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		session:      cfg.Session,
		log:          cfg.Log.With().Str("component", "ibkr-bridge").Logger(),
		bus:          cfg.Bus,
		requestQueue: make(chan callJob, requestQueueSize),
		stopChan:     make(chan struct{}),
		workerDone:   make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		callTimeout:  callTimeout,
		longTimeout:  callTimeout * 5 / 2,
		cooldown:     cooldown,
		orders:       openOrdersCache{ttl: ttl},
	}
}

// Start launches the worker goroutine and attempts the initial connect,
// waiting a bounded time for readiness. It returns after the wait regardless
// of the connection outcome; the connection manager keeps retrying.
func (b *Bridge) Start() {
	b.startOnce.Do(func() {
		go b.worker()

		if err := b.Connect(); err != nil {
			b.log.Warn().Err(err).Msg("Initial broker connect did not complete, will retry")
		}
	})
}

// Stop shuts down the worker and disconnects the session
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
		b.cancel()
		<-b.workerDone
		b.session.Disconnect()
		b.setConnected(false)
	})
}

// IsConnected reports whether the bridge considers the session usable
func (b *Bridge) IsConnected() bool {
	return b.connected.Load() && b.session.IsConnected()
}

// AccountID returns the managed account id, empty until connected
func (b *Bridge) AccountID() string {
	return b.session.AccountID()
}

// Connect requests a connect attempt through the worker. Attempts inside the
// cooldown window fail with ErrCooldown.
func (b *Bridge) Connect() error {
	_, err := b.call("connect", connectWait, func(ctx context.Context) (interface{}, error) {
		return nil, b.doConnect(ctx)
	})
	return err
}

// doConnect runs on the worker goroutine
func (b *Bridge) doConnect(ctx context.Context) error {
	if b.session.IsConnected() && b.session.AccountID() != "" {
		b.setConnected(true)
		return nil
	}

	if !b.lastAttempt.IsZero() && time.Since(b.lastAttempt) < b.cooldown {
		return ErrCooldown
	}
	b.lastAttempt = time.Now()
	b.setConnected(false)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := b.session.Connect(connectCtx); err != nil {
		return fmt.Errorf("broker connect failed: %w", err)
	}

	// The managed account id must be known before account or market data
	// calls will succeed
	readyCtx, cancelReady := context.WithTimeout(ctx, readyWait)
	defer cancelReady()
	for b.session.AccountID() == "" {
		select {
		case <-readyCtx.Done():
			return fmt.Errorf("broker session connected but no account id within %s", readyWait)
		case <-time.After(100 * time.Millisecond):
		}
	}

	// Fire-and-forget, a failed subscription is logged and never fatal
	if err := b.session.SubscribeAccountUpdates(b.ctx); err != nil {
		b.log.Warn().Err(err).Msg("Account update subscription failed")
	}

	b.setConnected(true)
	b.log.Info().Str("account", b.session.AccountID()).Msg("Broker session connected")
	return nil
}

func (b *Bridge) setConnected(connected bool) {
	prev := b.connected.Swap(connected)
	if prev != connected && b.bus != nil {
		b.bus.Emit("ibkr", &events.BridgeStatusData{Connected: connected})
	}
}

// call enqueues fn for the worker and waits up to timeout for the result.
// The result channel is buffered so the worker never blocks on a waiter that
// has given up.
func (b *Bridge) call(name string, timeout time.Duration, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	resultCh := make(chan callResult, 1)
	job := callJob{name: name, fn: fn, resultCh: resultCh}

	select {
	case b.requestQueue <- job:
	case <-b.stopChan:
		return nil, ErrClosed
	default:
		return nil, ErrQueueFull
	}

	select {
	case result := <-resultCh:
		return result.data, result.err
	case <-time.After(timeout):
		b.log.Warn().Str("call", name).Dur("timeout", timeout).
			Msg("Waiter abandoned broker call, request continues in background")
		return nil, ErrTimeout
	case <-b.stopChan:
		return nil, ErrClosed
	}
}

// worker processes requests from the queue sequentially
func (b *Bridge) worker() {
	defer close(b.workerDone)

	for {
		select {
		case <-b.stopChan:
			// Fail remaining jobs so no waiter is left hanging
			for {
				select {
				case job := <-b.requestQueue:
					job.resultCh <- callResult{err: ErrClosed}
				default:
					return
				}
			}
		case job := <-b.requestQueue:
			b.processJob(job)
		}
	}
}

func (b *Bridge) processJob(job callJob) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("call", job.name).Interface("panic", r).Msg("Broker call panicked")
			job.resultCh <- callResult{err: fmt.Errorf("broker call %s panicked: %v", job.name, r)}
		}
	}()

	data, err := job.fn(b.ctx)
	job.resultCh <- callResult{data: data, err: err}
}

// Positions fetches current positions and refreshes the position cache
func (b *Bridge) Positions() ([]domain.Position, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}

	data, err := b.call("positions", b.callTimeout, func(ctx context.Context) (interface{}, error) {
		positions, err := b.session.Positions(ctx)
		if err != nil {
			return nil, err
		}
		b.cacheMu.Lock()
		b.positions = positions
		b.cacheMu.Unlock()
		return positions, nil
	})
	if err != nil {
		return nil, err
	}
	return data.([]domain.Position), nil
}

// CachedPositions returns the last fetched positions without a broker call
func (b *Bridge) CachedPositions() []domain.Position {
	b.cacheMu.RLock()
	defer b.cacheMu.RUnlock()
	return append([]domain.Position(nil), b.positions...)
}

// AccountValues fetches tagged account figures and refreshes the cache
func (b *Bridge) AccountValues() ([]domain.AccountValue, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}

	data, err := b.call("account_values", b.callTimeout, func(ctx context.Context) (interface{}, error) {
		values, err := b.session.AccountValues(ctx)
		if err != nil {
			return nil, err
		}
		b.cacheMu.Lock()
		b.accountValues = values
		b.cacheMu.Unlock()
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	return data.([]domain.AccountValue), nil
}

// CachedAccountValues returns the last fetched account values
func (b *Bridge) CachedAccountValues() []domain.AccountValue {
	b.cacheMu.RLock()
	defer b.cacheMu.RUnlock()
	return append([]domain.AccountValue(nil), b.accountValues...)
}

// OpenOrders returns working orders through a TTL cache with single-flight
// refresh: within the TTL callers get the cached result, and concurrent
// callers past the TTL share one underlying broker request.
func (b *Bridge) OpenOrders() ([]domain.OpenOrder, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}

	cached, hit, flight, leader := b.orders.acquire(time.Now())
	if hit {
		return cached, nil
	}
	if leader {
		go b.refreshOpenOrders(flight)
	}
	return flight.wait(b.callTimeout)
}

// refreshOpenOrders performs the single underlying fetch for a flight
func (b *Bridge) refreshOpenOrders(flight *flightCall) {
	data, err := b.call("open_orders", 4*b.callTimeout, func(ctx context.Context) (interface{}, error) {
		orders, err := b.session.OpenOrders(ctx)
		if err != nil {
			return nil, err
		}
		// Applied here, on the worker, so a late result still lands in the
		// cache after every waiter has gone
		b.orders.store(orders, time.Now())
		return orders, nil
	})

	var orders []domain.OpenOrder
	if data != nil {
		orders = data.([]domain.OpenOrder)
	}
	b.orders.complete(flight, orders, err)
}

// InvalidateOpenOrders drops the open-orders cache so the next read refreshes
func (b *Bridge) InvalidateOpenOrders() {
	b.orders.invalidate()
}

// PlaceOrders submits a batch of orders (parent plus protective legs)
func (b *Bridge) PlaceOrders(tickets []OrderTicket) ([]PlacedOrder, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}

	data, err := b.call("place_orders", b.callTimeout, func(ctx context.Context) (interface{}, error) {
		placed, err := b.session.PlaceOrders(ctx, tickets)
		if err != nil {
			return nil, err
		}
		b.orders.invalidate()
		return placed, nil
	})
	if err != nil {
		return nil, err
	}
	return data.([]PlacedOrder), nil
}

// ModifyOrder updates price/quantity on a working order
func (b *Bridge) ModifyOrder(orderID int64, ticket OrderTicket) error {
	if !b.IsConnected() {
		return ErrNotConnected
	}

	_, err := b.call("modify_order", b.callTimeout, func(ctx context.Context) (interface{}, error) {
		if err := b.session.ModifyOrder(ctx, orderID, ticket); err != nil {
			return nil, err
		}
		b.orders.invalidate()
		return nil, nil
	})
	return err
}

// CancelOrder cancels a working order
func (b *Bridge) CancelOrder(orderID int64) error {
	if !b.IsConnected() {
		return ErrNotConnected
	}

	_, err := b.call("cancel_order", b.callTimeout, func(ctx context.Context) (interface{}, error) {
		if err := b.session.CancelOrder(ctx, orderID); err != nil {
			return nil, err
		}
		b.orders.invalidate()
		return nil, nil
	})
	return err
}

// SearchContract resolves a symbol to qualified contracts
func (b *Bridge) SearchContract(symbol string) ([]domain.Contract, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}

	data, err := b.call("search_contract", b.callTimeout, func(ctx context.Context) (interface{}, error) {
		return b.session.SearchContract(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return data.([]domain.Contract), nil
}

// Snapshot fetches price snapshots for the given contract ids
func (b *Bridge) Snapshot(conIDs []int64) ([]domain.Quote, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}

	data, err := b.call("snapshot", b.callTimeout, func(ctx context.Context) (interface{}, error) {
		return b.session.Snapshot(ctx, conIDs)
	})
	if err != nil {
		return nil, err
	}
	return data.([]domain.Quote), nil
}

// Quote fetches a single snapshot, nil when the broker returns nothing
func (b *Bridge) Quote(conID int64) (*domain.Quote, error) {
	quotes, err := b.Snapshot([]int64{conID})
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, nil
	}
	return &quotes[0], nil
}

// HistoricalBars fetches OHLCV history for a contract
func (b *Bridge) HistoricalBars(conID int64, period, barSize string, useRTH bool) ([]domain.Bar, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}

	data, err := b.call("historical_bars", b.longTimeout, func(ctx context.Context) (interface{}, error) {
		return b.session.HistoricalBars(ctx, conID, period, barSize, useRTH)
	})
	if err != nil {
		return nil, err
	}
	return data.([]domain.Bar), nil
}

// RunScanner executes a market scanner request
func (b *Bridge) RunScanner(req ScannerRequest) ([]domain.ScanRow, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}

	data, err := b.call("scanner", b.longTimeout, func(ctx context.Context) (interface{}, error) {
		return b.session.RunScanner(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return data.([]domain.ScanRow), nil
}

// NewsHeadlines fetches recent headlines for a contract
func (b *Bridge) NewsHeadlines(conID int64, lookbackDays, limit int) ([]string, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}

	data, err := b.call("news", b.callTimeout, func(ctx context.Context) (interface{}, error) {
		return b.session.NewsHeadlines(ctx, conID, lookbackDays, limit)
	})
	if err != nil {
		return nil, err
	}
	return data.([]string), nil
}
