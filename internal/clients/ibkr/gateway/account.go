package gateway

import (
	"context"
	"fmt"
	"sort"

	"github.com/aristath/helmsman/internal/domain"
)

const positionsPageSize = 100

// positionRow is one row from /portfolio/{account}/positions/{page}
type positionRow struct {
	ConID         int64   `json:"conid"`
	Ticker        string  `json:"ticker"`
	ContractDesc  string  `json:"contractDesc"`
	Position      float64 `json:"position"`
	AvgCost       float64 `json:"avgCost"`
	MktPrice      float64 `json:"mktPrice"`
	MktValue      float64 `json:"mktValue"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	RealizedPnl   float64 `json:"realizedPnl"`
	Currency      string  `json:"currency"`
	ListingExch   string  `json:"listingExchange"`
	AssetClass    string  `json:"assetClass"`
}

// Positions fetches all portfolio positions, walking pages until a short one
func (c *Client) Positions(ctx context.Context) ([]domain.Position, error) {
	account, err := c.account()
	if err != nil {
		return nil, err
	}

	var all []domain.Position
	for page := 0; page < 10; page++ {
		var rows []positionRow
		path := fmt.Sprintf("/portfolio/%s/positions/%d", account, page)
		if err := c.get(ctx, path, &rows); err != nil {
			return nil, fmt.Errorf("failed to fetch positions page %d: %w", page, err)
		}

		for _, row := range rows {
			if row.Position == 0 {
				continue
			}
			all = append(all, toDomainPosition(account, row))
		}

		if len(rows) < positionsPageSize {
			break
		}
	}

	return all, nil
}

func toDomainPosition(account string, row positionRow) domain.Position {
	symbol := row.Ticker
	if symbol == "" {
		symbol = firstField(row.ContractDesc)
	}
	return domain.Position{
		Account:       account,
		Symbol:        symbol,
		ConID:         row.ConID,
		Exchange:      row.ListingExch,
		Currency:      row.Currency,
		Quantity:      row.Position,
		AvgCost:       row.AvgCost,
		MarketPrice:   row.MktPrice,
		MarketValue:   row.MktValue,
		UnrealizedPnL: row.UnrealizedPnl,
		RealizedPnL:   row.RealizedPnl,
	}
}

// ledgerEntry is one currency bucket from /portfolio/{account}/ledger.
// The "BASE" key aggregates everything in the account's base currency.
type ledgerEntry struct {
	Currency           string  `json:"currency"`
	CashBalance        float64 `json:"cashbalance"`
	SettledCash        float64 `json:"settledcash"`
	NetLiquidation     float64 `json:"netliquidationvalue"`
	UnrealizedPnl      float64 `json:"unrealizedpnl"`
	RealizedPnl        float64 `json:"realizedpnl"`
	StockMarketValue   float64 `json:"stockmarketvalue"`
	ExchangeRate       float64 `json:"exchangerate"`
	SecondKey          string  `json:"secondkey"`
	AcctCode           string  `json:"acctcode"`
	Timestamp          int64   `json:"timestamp"`
	SessionID          int     `json:"sessionid"`
	CashBalanceFXSegmt float64 `json:"cashbalancefxsegment"`
}

// AccountValues fetches the per-currency ledger and flattens it into tagged
// account figures. The BASE bucket carries the whole-account equity tags;
// every real currency carries its own cash tags.
func (c *Client) AccountValues(ctx context.Context) ([]domain.AccountValue, error) {
	account, err := c.account()
	if err != nil {
		return nil, err
	}

	ledger := map[string]ledgerEntry{}
	if err := c.get(ctx, fmt.Sprintf("/portfolio/%s/ledger", account), &ledger); err != nil {
		return nil, fmt.Errorf("failed to fetch account ledger: %w", err)
	}

	currencies := make([]string, 0, len(ledger))
	for currency := range ledger {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	var values []domain.AccountValue
	addValue := func(tag string, amount float64, currency string) {
		values = append(values, domain.AccountValue{
			Account:  account,
			Tag:      tag,
			Value:    formatFloat(amount),
			Currency: currency,
		})
	}

	for _, currency := range currencies {
		entry := ledger[currency]
		if currency == "BASE" {
			addValue("NetLiquidation", entry.NetLiquidation, "BASE")
			addValue("UnrealizedPnL", entry.UnrealizedPnl, "BASE")
			addValue("RealizedPnL", entry.RealizedPnl, "BASE")
			addValue("TotalCashValue", entry.CashBalance, "BASE")
			continue
		}
		addValue("TotalCashValue", entry.CashBalance, currency)
		addValue("SettledCash", entry.SettledCash, currency)
		addValue("NetLiquidation", entry.NetLiquidation, currency)
	}

	return values, nil
}
