package cycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/clients/ibkr"
	"github.com/aristath/helmsman/internal/clients/llm"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/market_hours"
	"github.com/aristath/helmsman/internal/modules/research"
	"github.com/aristath/helmsman/internal/modules/review"
	"github.com/aristath/helmsman/internal/modules/risk"
	"github.com/aristath/helmsman/internal/modules/runtime_config"
	"github.com/aristath/helmsman/internal/modules/trading"
	testingpkg "github.com/aristath/helmsman/internal/testing"
)

// A Wednesday with both US and UK sessions open (11:00 New York, 16:00
// London) and no exchange holiday in sight.
var cycleTestNow = time.Date(2026, time.August, 19, 15, 0, 0, 0, time.UTC)

// fakeGateway stands in for the IBKR bridge across every surface one cycle
// touches: scanner, market data, account, and order placement.
type fakeGateway struct {
	mu        sync.Mutex
	scanRows  []domain.ScanRow
	scanErr   error
	scanDelay time.Duration
	scanCalls int
	contracts map[string][]domain.Contract
	bars      []domain.Bar
	values    []domain.AccountValue
	valuesErr error
	positions []domain.Position
	posErr    error
	placed    [][]ibkr.OrderTicket
	placeErr  error
	nextID    int64
}

func (g *fakeGateway) RunScanner(req ibkr.ScannerRequest) ([]domain.ScanRow, error) {
	g.mu.Lock()
	g.scanCalls++
	rows := make([]domain.ScanRow, len(g.scanRows))
	copy(rows, g.scanRows)
	err := g.scanErr
	delay := g.scanDelay
	g.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (g *fakeGateway) ScanCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scanCalls
}

func (g *fakeGateway) SearchContract(symbol string) ([]domain.Contract, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.contracts[symbol], nil
}

func (g *fakeGateway) Quote(conID int64) (*domain.Quote, error) {
	return testingpkg.SnapshotQuote("", conID, 50), nil
}

func (g *fakeGateway) HistoricalBars(conID int64, period, barSize string, useRTH bool) ([]domain.Bar, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bars, nil
}

func (g *fakeGateway) NewsHeadlines(conID int64, lookbackDays, limit int) ([]string, error) {
	return nil, nil
}

func (g *fakeGateway) AccountValues() ([]domain.AccountValue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.valuesErr != nil {
		return nil, g.valuesErr
	}
	return g.values, nil
}

func (g *fakeGateway) Positions() ([]domain.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.posErr != nil {
		return nil, g.posErr
	}
	return g.positions, nil
}

func (g *fakeGateway) OpenOrders() ([]domain.OpenOrder, error) { return nil, nil }

func (g *fakeGateway) PlaceOrders(tickets []ibkr.OrderTicket) ([]ibkr.PlacedOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placeErr != nil {
		return nil, g.placeErr
	}
	g.placed = append(g.placed, tickets)
	acks := make([]ibkr.PlacedOrder, len(tickets))
	for i, ticket := range tickets {
		g.nextID++
		acks[i] = ibkr.PlacedOrder{OrderID: g.nextID, ClientOrderID: ticket.ClientOrderID, Status: "Submitted"}
	}
	return acks, nil
}

func (g *fakeGateway) ModifyOrder(orderID int64, ticket ibkr.OrderTicket) error { return nil }
func (g *fakeGateway) CancelOrder(orderID int64) error                          { return nil }

func (g *fakeGateway) PlacedBatches() [][]ibkr.OrderTicket {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([][]ibkr.OrderTicket, len(g.placed))
	copy(out, g.placed)
	return out
}

// fakeDecider scripts both decision-service calls: per-symbol shortlist
// verdicts and the buy selection.
type fakeDecider struct {
	mu          sync.Mutex
	verdicts    map[string]llm.CandidateDecision
	decideErr   map[string]error
	selection   *llm.BuySelection
	selectErr   error
	selectCalls int
	maxNewSeen  int
	remainSeen  map[string]float64
}

func (d *fakeDecider) DecideCandidate(ctx context.Context, payload llm.CandidatePayload) (*llm.CandidateDecision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.decideErr[payload.Symbol]; err != nil {
		return nil, err
	}
	verdict, ok := d.verdicts[payload.Symbol]
	if !ok {
		verdict = llm.CandidateDecision{Decision: "SKIP", Confidence: 0.2, Rationale: "nothing compelling"}
	}
	return &verdict, nil
}

// SelectBuys returns the scripted selection, or every candidate in shortlist
// order when nothing was scripted.
func (d *fakeDecider) SelectBuys(ctx context.Context, candidates []llm.ShortlistedCandidate, maxNew int, budgetRemaining map[string]float64, marketContext map[string]interface{}) (*llm.BuySelection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selectCalls++
	d.maxNewSeen = maxNew
	d.remainSeen = make(map[string]float64, len(budgetRemaining))
	for k, v := range budgetRemaining {
		d.remainSeen[k] = v
	}
	if d.selectErr != nil {
		return nil, d.selectErr
	}
	if d.selection != nil {
		return d.selection, nil
	}
	symbols := make([]string, 0, len(candidates))
	for _, c := range candidates {
		symbols = append(symbols, c.Symbol)
	}
	return &llm.BuySelection{SelectedSymbols: symbols, Rationale: "taking the whole shortlist"}, nil
}

func (d *fakeDecider) SelectCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selectCalls
}

func (d *fakeDecider) MaxNewSeen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxNewSeen
}

func (d *fakeDecider) RemainSeen() map[string]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remainSeen
}

type stubReviewer struct {
	mu       sync.Mutex
	calls    int
	contexts []*review.ReviewContext
}

func (s *stubReviewer) ReviewPositions(ctx context.Context, rc *review.ReviewContext) []review.PositionOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.contexts = append(s.contexts, rc)
	return nil
}

func (s *stubReviewer) ReviewOrders(ctx context.Context, rc *review.ReviewContext) []review.OrderOutcome {
	return nil
}

func (s *stubReviewer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type cycleFixture struct {
	runner      *Runner
	gateway     *fakeGateway
	decider     *fakeDecider
	reviews     *stubReviewer
	overlay     *runtime_config.Service
	overlayRepo *runtime_config.Repository
	records     *research.Repository
	trades      *trading.Repository
	bus         *events.Bus
}

// cycleTestConfig narrows the defaults to one market and one scan code so a
// test iteration runs exactly one scan.
func cycleTestConfig() config.Base {
	base := config.DefaultBase()
	base.Trading.Markets = []string{"US"}
	base.Trading.MaxSharePrice = 100
	base.Trading.Screener.ScanCodes = []string{"TOP_PERC_GAIN"}
	base.Trading.Screener.MaxCandidates = 10
	base.Reddit.Enabled = false
	return base
}

func newCycleFixture(t *testing.T, base config.Base) *cycleFixture {
	t.Helper()
	log := zerolog.Nop()

	ledger, cleanup := testingpkg.NewTestDB(t, "ledger")
	t.Cleanup(cleanup)
	configDB, cleanupCfg := testingpkg.NewTestDB(t, "config")
	t.Cleanup(cleanupCfg)

	gateway := &fakeGateway{
		bars:      testingpkg.DailyBars(60, 48, 0.05),
		values:    testingpkg.AccountValues("DU000000", 1e9, map[string]float64{"USD": 16000}),
		contracts: map[string][]domain.Contract{},
	}
	decider := &fakeDecider{}
	reviews := &stubReviewer{}
	hours := market_hours.NewService()
	bus := events.NewBus()

	overlayRepo := runtime_config.NewRepository(configDB, log)
	require.NoError(t, overlayRepo.EnsureDefault())
	overlay := runtime_config.NewService(overlayRepo, base, nil, log)

	records := research.NewRepository(ledger, log)
	researcher := research.NewService(research.ServiceConfig{
		Broker:   gateway,
		Decider:  decider,
		Analyser: research.NewAnalyser(log),
		Repo:     records,
		Hours:    hours,
		Log:      log,
	})
	screener := research.NewScreener(gateway, log)

	trades := trading.NewRepository(ledger, log)
	executor := trading.NewExecutor(trading.ExecutorConfig{
		Broker: gateway,
		Hours:  hours,
		Repo:   trades,
		Log:    log,
	})

	runner := NewRunner(RunnerConfig{
		Overlay:      overlay,
		Broker:       gateway,
		Screener:     screener,
		Research:     researcher,
		Review:       reviews,
		Executor:     executor,
		Selector:     decider,
		Risk:         risk.NewAllocator(log),
		ResearchRepo: records,
		Trades:       trades,
		Hours:        hours,
		Bus:          bus,
		Log:          log,
	})
	return &cycleFixture{
		runner:      runner,
		gateway:     gateway,
		decider:     decider,
		reviews:     reviews,
		overlay:     overlay,
		overlayRepo: overlayRepo,
		records:     records,
		trades:      trades,
		bus:         bus,
	}
}

func usScanRow(rank int, conID int64, symbol string) domain.ScanRow {
	return domain.ScanRow{Rank: rank, ConID: conID, Symbol: symbol, ScanCode: "TOP_PERC_GAIN"}
}

func shortlistVerdict(score float64, rationale string) llm.CandidateDecision {
	return llm.CandidateDecision{
		Decision:   "SHORTLIST",
		Confidence: 0.8,
		Score:      score,
		Sentiment:  0.4,
		Rationale:  rationale,
	}
}

func drainEvents(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func cycleEvents(evts []events.Event) []*events.CycleData {
	var out []*events.CycleData
	for _, evt := range evts {
		if data, ok := evt.Data.(*events.CycleData); ok {
			out = append(out, data)
		}
	}
	return out
}

func TestStartTriggerStop(t *testing.T) {
	fix := newCycleFixture(t, cycleTestConfig())

	fix.runner.Start()
	require.Eventually(t, func() bool { return fix.gateway.ScanCalls() >= 1 },
		2*time.Second, 10*time.Millisecond, "first iteration never ran")

	// The empty scan result parks the loop on the full interval; a trigger
	// must cut that sleep short.
	fix.runner.Trigger()
	require.Eventually(t, func() bool { return fix.gateway.ScanCalls() >= 2 },
		2*time.Second, 10*time.Millisecond, "trigger did not wake the loop")

	fix.runner.Stop()
	after := fix.gateway.ScanCalls()
	fix.runner.Trigger()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, fix.gateway.ScanCalls(), "stopped runner must not iterate")
}

func TestTriggerNeverBlocks(t *testing.T) {
	fix := newCycleFixture(t, cycleTestConfig())

	// No goroutine is draining the channel; repeated triggers must coalesce
	// instead of blocking the caller.
	for i := 0; i < 5; i++ {
		fix.runner.Trigger()
	}
}

func TestPauseObservesStop(t *testing.T) {
	fix := newCycleFixture(t, cycleTestConfig())

	assert.True(t, fix.runner.pause(0), "zero delay restarts immediately while running")

	result := make(chan bool, 1)
	go func() { result <- fix.runner.pause(time.Minute) }()
	close(fix.runner.stop)
	select {
	case v := <-result:
		assert.False(t, v)
	case <-time.After(time.Second):
		t.Fatal("pause did not observe stop")
	}

	assert.False(t, fix.runner.pause(0), "zero delay must still notice a stopped runner")
}

func TestPauseWakesOnTrigger(t *testing.T) {
	fix := newCycleFixture(t, cycleTestConfig())

	result := make(chan bool, 1)
	go func() { result <- fix.runner.pause(time.Hour) }()
	fix.runner.Trigger()
	select {
	case v := <-result:
		assert.True(t, v, "a trigger continues the loop, it does not stop it")
	case <-time.After(time.Second):
		t.Fatal("pause did not observe the trigger")
	}
}
