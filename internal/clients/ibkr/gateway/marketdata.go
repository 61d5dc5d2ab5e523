package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/helmsman/internal/clients/ibkr"
	"github.com/aristath/helmsman/internal/domain"
)

// Snapshot field ids
const (
	fieldLast         = "31"
	fieldHigh         = "70"
	fieldLow          = "71"
	fieldBid          = "84"
	fieldAsk          = "86"
	fieldSymbol       = "55"
	fieldAvailability = "6509"
	fieldAvgVolume    = "7282"
	fieldVolumeLong   = "7762"
)

// searchRow is one match from /iserver/secdef/search
type searchRow struct {
	ConID       flexFloat `json:"conid"`
	Symbol      string    `json:"symbol"`
	CompanyName string    `json:"companyName"`
	Description string    `json:"description"`
	Sections    []struct {
		SecType  string `json:"secType"`
		Exchange string `json:"exchange"`
	} `json:"sections"`
}

// contractInfo is /iserver/contract/{conid}/info-and-rules
type contractInfo struct {
	ConID          int64  `json:"con_id"`
	Symbol         string `json:"symbol"`
	Currency       string `json:"currency"`
	ValidExchanges string `json:"valid_exchanges"`
	Rules          struct {
		IncrementRules []struct {
			LowerEdge float64 `json:"lowerEdge"`
			Increment float64 `json:"increment"`
		} `json:"incrementRules"`
	} `json:"rules"`
}

// SearchContract resolves a symbol to a qualified stock contract. Only the
// best match is fully resolved (currency and price increment need a second
// round trip per contract).
func (c *Client) SearchContract(ctx context.Context, symbol string) ([]domain.Contract, error) {
	var rows []searchRow
	body := map[string]interface{}{"symbol": symbol, "secType": "STK"}
	if err := c.post(ctx, "/iserver/secdef/search", body, &rows); err != nil {
		return nil, fmt.Errorf("contract search failed for %s: %w", symbol, err)
	}

	var match *searchRow
	for i := range rows {
		if !strings.EqualFold(rows[i].Symbol, symbol) {
			continue
		}
		for _, section := range rows[i].Sections {
			if section.SecType == "STK" {
				match = &rows[i]
				break
			}
		}
		if match != nil {
			break
		}
	}
	if match == nil {
		return nil, nil
	}

	conID := int64(match.ConID)
	var info contractInfo
	path := fmt.Sprintf("/iserver/contract/%d/info-and-rules", conID)
	if err := c.get(ctx, path, &info); err != nil {
		return nil, fmt.Errorf("contract info failed for conid %d: %w", conID, err)
	}

	contract := domain.Contract{
		ConID:    conID,
		Symbol:   match.Symbol,
		Exchange: firstField(info.ValidExchanges),
		Currency: info.Currency,
	}
	if len(info.Rules.IncrementRules) > 0 {
		contract.MinTick = info.Rules.IncrementRules[0].Increment
	}
	return []domain.Contract{contract}, nil
}

// Snapshot fetches market data snapshots. The gateway streams snapshot state
// into its session, so the first request for a contract may come back without
// price fields; one short retry fills them in.
func (c *Client) Snapshot(ctx context.Context, conIDs []int64) ([]domain.Quote, error) {
	if len(conIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(conIDs))
	for i, id := range conIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	path := fmt.Sprintf("/iserver/marketdata/snapshot?conids=%s&fields=%s",
		strings.Join(ids, ","),
		strings.Join([]string{fieldLast, fieldBid, fieldAsk, fieldHigh, fieldLow,
			fieldSymbol, fieldAvailability, fieldAvgVolume, fieldVolumeLong}, ","))

	rows, err := c.fetchSnapshot(ctx, path)
	if err != nil {
		return nil, err
	}
	if !snapshotHasPrices(rows) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
		if rows, err = c.fetchSnapshot(ctx, path); err != nil {
			return nil, err
		}
	}

	quotes := make([]domain.Quote, 0, len(rows))
	for _, row := range rows {
		quotes = append(quotes, toDomainQuote(row))
	}
	return quotes, nil
}

type snapshotRow map[string]interface{}

func (c *Client) fetchSnapshot(ctx context.Context, path string) ([]snapshotRow, error) {
	var rows []snapshotRow
	if err := c.get(ctx, path, &rows); err != nil {
		return nil, fmt.Errorf("snapshot fetch failed: %w", err)
	}
	return rows, nil
}

func snapshotHasPrices(rows []snapshotRow) bool {
	for _, row := range rows {
		if fieldAsFloat(row, fieldLast) > 0 || fieldAsFloat(row, fieldBid) > 0 || fieldAsFloat(row, fieldAsk) > 0 {
			return true
		}
	}
	return false
}

func toDomainQuote(row snapshotRow) domain.Quote {
	quote := domain.Quote{
		Last:      fieldAsFloat(row, fieldLast),
		Bid:       fieldAsFloat(row, fieldBid),
		Ask:       fieldAsFloat(row, fieldAsk),
		High:      fieldAsFloat(row, fieldHigh),
		Low:       fieldAsFloat(row, fieldLow),
		Volume:    fieldAsVolume(row, fieldVolumeLong),
		AvgVolume: fieldAsVolume(row, fieldAvgVolume),
	}
	if conid, ok := row["conid"]; ok {
		quote.ConID = int64(toFloat(conid))
	}
	if symbol, ok := row[fieldSymbol].(string); ok {
		quote.Symbol = symbol
	}
	// Availability prefixed "D" means delayed data
	if availability, ok := row[fieldAvailability].(string); ok {
		quote.Delayed = strings.HasPrefix(availability, "D")
	}
	return quote
}

// historyResponse is /iserver/marketdata/history
type historyResponse struct {
	Symbol string `json:"symbol"`
	Data   []struct {
		Open   float64 `json:"o"`
		Close  float64 `json:"c"`
		High   float64 `json:"h"`
		Low    float64 `json:"l"`
		Volume float64 `json:"v"`
		Time   int64   `json:"t"` // Epoch milliseconds
	} `json:"data"`
	Points int `json:"points"`
}

// HistoricalBars fetches OHLCV history. Accepts both gateway-native period
// strings ("2d", "5min") and the spaced forms ("2 D", "5 mins").
func (c *Client) HistoricalBars(ctx context.Context, conID int64, period, barSize string, useRTH bool) ([]domain.Bar, error) {
	path := fmt.Sprintf("/iserver/marketdata/history?conid=%d&period=%s&bar=%s&outsideRth=%t",
		conID, normalizePeriod(period), normalizeBar(barSize), !useRTH)

	var resp historyResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("history fetch failed for conid %d: %w", conID, err)
	}

	bars := make([]domain.Bar, 0, len(resp.Data))
	for _, row := range resp.Data {
		bars = append(bars, domain.Bar{
			Time:   time.UnixMilli(row.Time).UTC(),
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
		})
	}
	return bars, nil
}

// newsResponse is /iserver/news/historical
type newsResponse struct {
	Articles []struct {
		Headline string `json:"headline"`
		Provider string `json:"provider"`
		Time     int64  `json:"time"` // Epoch milliseconds
	} `json:"articles"`
}

// NewsHeadlines fetches recent headlines for a contract, newest first
func (c *Client) NewsHeadlines(ctx context.Context, conID int64, lookbackDays, limit int) ([]string, error) {
	path := fmt.Sprintf("/iserver/news/historical?conid=%d&days=%d&limit=%d", conID, lookbackDays, limit)

	var resp newsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("news fetch failed for conid %d: %w", conID, err)
	}

	headlines := make([]string, 0, len(resp.Articles))
	for _, article := range resp.Articles {
		if article.Headline != "" {
			headlines = append(headlines, article.Headline)
		}
	}
	return headlines, nil
}

// scannerResponse is /iserver/scanner/run
type scannerResponse struct {
	Contracts []struct {
		ConID        flexFloat `json:"con_id"`
		Symbol       string    `json:"symbol"`
		ListingExch  string    `json:"listing_exchange"`
		SecType      string    `json:"sec_type"`
		TradingClass string    `json:"trading_class"`
	} `json:"contracts"`
}

// RunScanner executes a market scanner and returns ranked rows
func (c *Client) RunScanner(ctx context.Context, req ibkr.ScannerRequest) ([]domain.ScanRow, error) {
	var filters []map[string]interface{}
	if req.AbovePrice > 0 {
		filters = append(filters, map[string]interface{}{"code": "priceAbove", "value": req.AbovePrice})
	}
	if req.BelowPrice > 0 {
		filters = append(filters, map[string]interface{}{"code": "priceBelow", "value": req.BelowPrice})
	}
	if req.AboveVolume > 0 {
		filters = append(filters, map[string]interface{}{"code": "volumeAbove", "value": req.AboveVolume})
	}

	body := map[string]interface{}{
		"instrument": req.Instrument,
		"location":   req.Location,
		"type":       req.ScanCode,
	}
	if len(filters) > 0 {
		body["filter"] = filters
	}

	var resp scannerResponse
	if err := c.post(ctx, "/iserver/scanner/run", body, &resp); err != nil {
		return nil, fmt.Errorf("scanner run failed (%s): %w", req.ScanCode, err)
	}

	limit := req.MaxResults
	if limit <= 0 || limit > len(resp.Contracts) {
		limit = len(resp.Contracts)
	}

	rows := make([]domain.ScanRow, 0, limit)
	for i := 0; i < limit; i++ {
		contract := resp.Contracts[i]
		if contract.Symbol == "" {
			continue
		}
		rows = append(rows, domain.ScanRow{
			Rank:         i + 1,
			ConID:        int64(contract.ConID),
			Symbol:       contract.Symbol,
			Exchange:     contract.ListingExch,
			ScanCode:     req.ScanCode,
			TradingClass: contract.TradingClass,
		})
	}
	return rows, nil
}
