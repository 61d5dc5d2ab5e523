// Package ibkr provides the broker connectivity bridge.
//
// The live brokerage session is single-threaded by nature: its transport must
// not be called concurrently. The Bridge owns the only handle to the session
// and serializes every broker call through one worker goroutine. All other
// components reach the broker exclusively through the Bridge's timeout-bounded
// methods.
package ibkr

import (
	"context"
	"errors"

	"github.com/aristath/helmsman/internal/domain"
)

// Session is the wire-level brokerage client owned by the Bridge.
// Implementations are NOT required to be safe for concurrent use; the Bridge
// guarantees serialized access. IsConnected and AccountID are the exceptions:
// they must be cheap and safe to call from any goroutine.
type Session interface {
	// Connect establishes (or validates) the broker session. It must be
	// idempotent: calling it while connected is a cheap health check.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. Safe to call when disconnected.
	Disconnect()

	// IsConnected reports the session's view of connectivity.
	// Must be safe for concurrent use.
	IsConnected() bool

	// AccountID returns the managed account id captured at connect time,
	// empty when unknown. Must be safe for concurrent use.
	AccountID() string

	// SubscribeAccountUpdates starts the push stream for order and P&L
	// updates. Fire-and-forget: the Bridge logs failures and moves on.
	SubscribeAccountUpdates(ctx context.Context) error

	Positions(ctx context.Context) ([]domain.Position, error)
	AccountValues(ctx context.Context) ([]domain.AccountValue, error)
	OpenOrders(ctx context.Context) ([]domain.OpenOrder, error)

	// PlaceOrders submits a batch of orders atomically. Bracket legs
	// reference their parent via OrderTicket.ParentClientID and the whole
	// batch shares one OCA group when OCAGroup is set.
	PlaceOrders(ctx context.Context, tickets []OrderTicket) ([]PlacedOrder, error)
	ModifyOrder(ctx context.Context, orderID int64, ticket OrderTicket) error
	CancelOrder(ctx context.Context, orderID int64) error

	// SearchContract resolves a symbol to qualified contracts.
	SearchContract(ctx context.Context, symbol string) ([]domain.Contract, error)
	Snapshot(ctx context.Context, conIDs []int64) ([]domain.Quote, error)
	HistoricalBars(ctx context.Context, conID int64, period, barSize string, useRTH bool) ([]domain.Bar, error)
	RunScanner(ctx context.Context, req ScannerRequest) ([]domain.ScanRow, error)

	// NewsHeadlines fetches recent headlines for a contract, newest first.
	// Empty when the account has no news entitlements.
	NewsHeadlines(ctx context.Context, conID int64, lookbackDays, limit int) ([]string, error)
}

// OrderTicket describes one order to submit
type OrderTicket struct {
	ClientOrderID  string // Caller-assigned id, also used for parent references
	ParentClientID string // ClientOrderID of the parent order for bracket legs
	ConID          int64
	Symbol         string
	Side           domain.OrderSide
	OrderType      domain.OrderType
	Quantity       float64
	LimitPrice     float64 // LMT orders
	StopPrice      float64 // STP orders
	TIF            string  // "DAY" or "GTC", defaults to "DAY"
	OCAGroup       string
	OutsideRTH     bool
}

// PlacedOrder is the broker's acknowledgement of one submitted ticket
type PlacedOrder struct {
	OrderID       int64
	ClientOrderID string
	Status        string
}

// ScannerRequest describes a market scanner run
type ScannerRequest struct {
	Instrument  string // e.g. "STK"
	Location    string // e.g. "STK.US.MAJOR"
	ScanCode    string // e.g. "MOST_ACTIVE"
	MaxResults  int
	AbovePrice  float64
	BelowPrice  float64
	AboveVolume int64
}

// Bridge call failures
var (
	// ErrNotConnected means the call was refused because the session is down.
	ErrNotConnected = errors.New("broker session not connected")

	// ErrTimeout means the waiter gave up. The underlying broker call is not
	// cancelled; its result is still applied to the bridge caches on arrival.
	ErrTimeout = errors.New("broker call timed out")

	// ErrQueueFull means the bridge request queue is saturated.
	ErrQueueFull = errors.New("broker request queue is full")

	// ErrClosed means the bridge has been stopped.
	ErrClosed = errors.New("broker bridge is closed")

	// ErrCooldown means a connect attempt was refused because the previous
	// attempt was too recent.
	ErrCooldown = errors.New("connect attempt within cooldown window")
)
