package events

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const recorderBuffer = 256

// Recorder subscribes to the bus and writes events into the persisted
// stream, so the dashboard can read the loop's story back without having
// been connected when it happened. Step changes update the live-status
// row instead of appending; everything else becomes an event row.
type Recorder struct {
	repo *Repository
	log  zerolog.Logger

	unsubscribe func()
	done        chan struct{}
}

// NewRecorder creates a recorder writing through the given repository
func NewRecorder(repo *Repository, log zerolog.Logger) *Recorder {
	return &Recorder{
		repo: repo,
		log:  log.With().Str("service", "recorder").Logger(),
	}
}

// Start subscribes to the bus and begins persisting events
func (r *Recorder) Start(bus *Bus) {
	ch, unsubscribe := bus.Subscribe(recorderBuffer)
	r.unsubscribe = unsubscribe
	r.done = make(chan struct{})
	go r.drain(ch)
}

// Stop unsubscribes and waits until every queued event is written
func (r *Recorder) Stop() {
	if r.unsubscribe == nil {
		return
	}
	r.unsubscribe()
	<-r.done
}

func (r *Recorder) drain(ch <-chan Event) {
	defer close(r.done)
	for evt := range ch {
		r.record(evt)
	}
}

func (r *Recorder) record(evt Event) {
	if step, ok := evt.Data.(*StepData); ok {
		if err := r.repo.UpdateLiveStatus(step.Symbol, step.Step); err != nil {
			r.log.Warn().Err(err).Msg("Failed to update live status")
		}
		return
	}

	level, symbol, step, message, ok := describe(evt)
	if !ok {
		return
	}
	if _, err := r.repo.InsertEvent(level, symbol, step, message); err != nil {
		r.log.Warn().Err(err).Str("message", message).Msg("Failed to persist event")
	}
}

// describe renders a bus event as one journal line. Events with no
// dashboard value report ok=false and are dropped.
func describe(evt Event) (level, symbol, step, message string, ok bool) {
	switch d := evt.Data.(type) {
	case *CycleData:
		switch d.Status {
		case "completed":
			msg := fmt.Sprintf("Cycle completed: %d candidates, %d buys (%.1fs)",
				d.Candidates, d.Buys, d.Duration)
			return "INFO", "", "Cycle", msg, true
		case "failed":
			return "ERROR", "", "Cycle", fmt.Sprintf("Cycle failed: %s", d.Error), true
		case "skipped":
			return "WARNING", "", "Cycle", fmt.Sprintf("Cycle skipped: %s", d.Reason), true
		default:
			return "INFO", "", "Cycle", "Cycle started", true
		}

	case *ResearchData:
		msg := d.Decision
		if d.Reason != "" {
			msg = fmt.Sprintf("%s: %s", d.Decision, d.Reason)
		}
		return "INFO", d.Symbol, "Research", msg, true

	case *TradeExecutedData:
		msg := fmt.Sprintf("%s %.0f @ %.2f", d.Side, d.Quantity, d.Price)
		if d.StopLoss != nil {
			msg += fmt.Sprintf(", stop %.2f", *d.StopLoss)
		}
		if d.TakeProfit != nil {
			msg += fmt.Sprintf(", take-profit %.2f", *d.TakeProfit)
		}
		return "INFO", d.Symbol, "Trade", msg, true

	case *OrderData:
		if d.Cancelled {
			return "INFO", d.Symbol, "Orders", fmt.Sprintf("Order %d cancelled", d.OrderID), true
		}
		msg := fmt.Sprintf("Order %d placed: %s %s %.0f", d.OrderID, d.Side, d.OrderType, d.Quantity)
		if d.Price > 0 {
			msg += fmt.Sprintf(" @ %.2f", d.Price)
		}
		return "INFO", d.Symbol, "Orders", msg, true

	case *PositionReviewData:
		msg := fmt.Sprintf("Position review: %s", d.Action)
		if d.Reason != "" {
			msg += fmt.Sprintf(" (%s)", d.Reason)
		}
		return "INFO", d.Symbol, "Review", msg, true

	case *OrderReviewData:
		return "INFO", d.Symbol, "Review",
			fmt.Sprintf("Order %d review: %s", d.OrderID, d.Action), true

	case *AdjustmentData:
		kind := "Stop"
		if d.Kind == "take_profit" {
			kind = "Take-profit"
		}
		return "INFO", d.Symbol, "Review",
			fmt.Sprintf("%s moved to %.2f", kind, d.NewPrice), true

	case *ConfigChangedData:
		msg := "Runtime config updated"
		if len(d.Keys) > 0 {
			msg += ": " + strings.Join(d.Keys, ", ")
		}
		if d.Strategy != "" {
			msg += fmt.Sprintf(" (strategy %s)", d.Strategy)
		}
		return "INFO", "", "Config", msg, true

	case *PausedChangedData:
		if d.Paused {
			msg := "Trading paused"
			if d.Reason != "" {
				msg += ": " + d.Reason
			}
			return "WARNING", "", "Config", msg, true
		}
		return "INFO", "", "Config", "Trading resumed", true

	case *BridgeStatusData:
		if d.Connected {
			return "INFO", "IBKR", "Connection", "Gateway connected", true
		}
		msg := "Gateway disconnected"
		if d.Detail != "" {
			msg += ": " + d.Detail
		}
		return "WARNING", "IBKR", "Connection", msg, true

	case *SentimentRefreshedData:
		if d.Symbols > 0 {
			return "INFO", "Reddit", "Sentiment",
				fmt.Sprintf("Sentiment scored for %d symbols", d.Symbols), true
		}
		return "INFO", "Reddit", "Sentiment",
			fmt.Sprintf("Cached %d new Reddit posts", d.Posts), true

	case *JobStatusData:
		switch d.Status {
		case "completed":
			return "INFO", "", "Jobs",
				fmt.Sprintf("Job %s completed (%.1fs)", d.JobName, d.Duration), true
		case "failed":
			return "ERROR", "", "Jobs",
				fmt.Sprintf("Job %s failed: %s", d.JobName, d.Error), true
		default:
			// Job starts are log noise, not journal entries.
			return "", "", "", "", false
		}

	case *ErrorEventData:
		symbol, _ := d.Context["symbol"].(string)
		step, _ := d.Context["step"].(string)
		return "ERROR", symbol, step, d.Error, true
	}

	return "", "", "", "", false
}
