package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/helmsman/internal/clients/ibkr"
	"github.com/aristath/helmsman/internal/domain"
)

// maxConfirmRounds bounds the order-confirmation question loop
const maxConfirmRounds = 5

// orderRow is one row from /iserver/account/orders
type orderRow struct {
	OrderID       int64     `json:"orderId"`
	ConID         int64     `json:"conid"`
	Ticker        string    `json:"ticker"`
	Side          string    `json:"side"`
	OrderType     string    `json:"origOrderType"`
	Price         flexFloat `json:"price"`
	AuxPrice      flexFloat `json:"auxPrice"`
	StopPrice     flexFloat `json:"stop_price"`
	TotalSize     flexFloat `json:"totalSize"`
	RemainingQty  flexFloat `json:"remainingQuantity"`
	Status        string    `json:"status"`
	ParentID      int64     `json:"parentId"`
	OrderRef      string    `json:"order_ref"`
	Currency      string    `json:"cashCcy"`
	ListingExch   string    `json:"listingExchange"`
	OrderDesc     string    `json:"orderDesc"`
	LastExecution int64     `json:"lastExecutionTime_r"`
}

type openOrdersResponse struct {
	Orders   []orderRow `json:"orders"`
	Snapshot bool       `json:"snapshot"`
}

// deadStatuses are order states that no longer count as working
var deadStatuses = map[string]bool{
	"Filled":    true,
	"Cancelled": true,
	"Inactive":  true,
}

// OpenOrders fetches working orders
func (c *Client) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	var resp openOrdersResponse
	if err := c.get(ctx, "/iserver/account/orders", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch open orders: %w", err)
	}

	orders := make([]domain.OpenOrder, 0, len(resp.Orders))
	for _, row := range resp.Orders {
		if deadStatuses[row.Status] {
			continue
		}
		orders = append(orders, toDomainOrder(row))
	}
	return orders, nil
}

// toDomainOrder maps a gateway order row onto the domain order. The OCA group
// is recovered from the client order reference, which this system writes as
// "{group}.{leg}" for protective exits.
func toDomainOrder(row orderRow) domain.OpenOrder {
	orderType := normalizeOrderType(row.OrderType)

	order := domain.OpenOrder{
		OrderID:       row.OrderID,
		ClientOrderID: row.OrderRef,
		Symbol:        row.Ticker,
		ConID:         row.ConID,
		Side:          domain.OrderSide(strings.ToUpper(row.Side)),
		OrderType:     orderType,
		Status:        row.Status,
		ParentID:      row.ParentID,
		Currency:      row.Currency,
	}

	order.Quantity = float64(row.TotalSize)
	if order.Quantity == 0 {
		order.Quantity = float64(row.RemainingQty)
	}

	switch orderType {
	case domain.OrderStop:
		order.StopPrice = float64(row.StopPrice)
		if order.StopPrice == 0 {
			order.StopPrice = float64(row.Price)
		}
	case domain.OrderLimit:
		order.LimitPrice = float64(row.Price)
	}

	if group, _, ok := splitOrderRef(row.OrderRef); ok {
		order.OCAGroup = group
	}
	return order
}

// splitOrderRef decodes a "{group}.{leg}" client order reference
func splitOrderRef(ref string) (group, leg string, ok bool) {
	idx := strings.LastIndex(ref, ".")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", false
	}
	group, leg = ref[:idx], ref[idx+1:]
	if !strings.HasPrefix(group, "OCA_") {
		return "", "", false
	}
	return group, leg, true
}

// cpOrder is the gateway's order submission schema. For STP orders the
// price field carries the trigger.
type cpOrder struct {
	AcctID        string  `json:"acctId,omitempty"`
	ConID         int64   `json:"conid"`
	COID          string  `json:"cOID,omitempty"`
	ParentID      string  `json:"parentId,omitempty"`
	OrderType     string  `json:"orderType"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price,omitempty"`
	TIF           string  `json:"tif"`
	OutsideRTH    bool    `json:"outsideRTH,omitempty"`
	IsSingleGroup bool    `json:"isSingleGroup,omitempty"`
}

// placeResponseItem is one element of the order submission response: either
// an acknowledged order or a confirmation question that must be replied to
type placeResponseItem struct {
	OrderID      string   `json:"order_id"`
	OrderStatus  string   `json:"order_status"`
	LocalOrderID string   `json:"local_order_id"`
	ID           string   `json:"id"`
	Message      []string `json:"message"`
}

// PlaceOrders submits a batch of orders and answers the gateway's
// confirmation questions until order ids come back
func (c *Client) PlaceOrders(ctx context.Context, tickets []ibkr.OrderTicket) ([]ibkr.PlacedOrder, error) {
	account, err := c.account()
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, nil
	}

	batch := make([]cpOrder, len(tickets))
	for i, ticket := range tickets {
		batch[i] = toGatewayOrder(account, ticket)
	}

	var items []placeResponseItem
	path := fmt.Sprintf("/iserver/account/%s/orders", account)
	if err := c.post(ctx, path, map[string]interface{}{"orders": batch}, &items); err != nil {
		return nil, fmt.Errorf("order submission failed: %w", err)
	}

	items, err = c.confirmOrders(ctx, items)
	if err != nil {
		return nil, err
	}

	placed := make([]ibkr.PlacedOrder, 0, len(items))
	for i, item := range items {
		orderID := parseInt64(item.OrderID)
		clientID := item.LocalOrderID
		if clientID == "" && i < len(tickets) {
			clientID = tickets[i].ClientOrderID
		}
		placed = append(placed, ibkr.PlacedOrder{
			OrderID:       orderID,
			ClientOrderID: clientID,
			Status:        item.OrderStatus,
		})
	}
	return placed, nil
}

// confirmOrders answers confirmation questions until none remain
func (c *Client) confirmOrders(ctx context.Context, items []placeResponseItem) ([]placeResponseItem, error) {
	for round := 0; round < maxConfirmRounds; round++ {
		replyID := ""
		for _, item := range items {
			if item.ID != "" && len(item.Message) > 0 {
				replyID = item.ID
				break
			}
		}
		if replyID == "" {
			return items, nil
		}

		c.log.Debug().Str("reply_id", replyID).Msg("Confirming order question")

		var next []placeResponseItem
		path := fmt.Sprintf("/iserver/reply/%s", replyID)
		if err := c.post(ctx, path, map[string]bool{"confirmed": true}, &next); err != nil {
			return nil, fmt.Errorf("order confirmation failed: %w", err)
		}
		items = next
	}
	return nil, fmt.Errorf("order not acknowledged after %d confirmation rounds", maxConfirmRounds)
}

func toGatewayOrder(account string, ticket ibkr.OrderTicket) cpOrder {
	tif := ticket.TIF
	if tif == "" {
		tif = "DAY"
	}

	order := cpOrder{
		AcctID:        account,
		ConID:         ticket.ConID,
		COID:          ticket.ClientOrderID,
		ParentID:      ticket.ParentClientID,
		OrderType:     string(ticket.OrderType),
		Side:          string(ticket.Side),
		Quantity:      ticket.Quantity,
		TIF:           tif,
		OutsideRTH:    ticket.OutsideRTH,
		IsSingleGroup: ticket.OCAGroup != "",
	}

	switch ticket.OrderType {
	case domain.OrderLimit:
		order.Price = ticket.LimitPrice
	case domain.OrderStop:
		order.Price = ticket.StopPrice
	}
	return order
}

// ModifyOrder rewrites price/quantity on a working order
func (c *Client) ModifyOrder(ctx context.Context, orderID int64, ticket ibkr.OrderTicket) error {
	account, err := c.account()
	if err != nil {
		return err
	}

	order := toGatewayOrder(account, ticket)
	order.COID = "" // The gateway rejects a cOID on modify
	order.IsSingleGroup = false

	var items []placeResponseItem
	path := fmt.Sprintf("/iserver/account/%s/order/%d", account, orderID)
	if err := c.post(ctx, path, order, &items); err != nil {
		return fmt.Errorf("order modify failed: %w", err)
	}

	if _, err := c.confirmOrders(ctx, items); err != nil {
		return err
	}
	return nil
}

// CancelOrder cancels a working order
func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	account, err := c.account()
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/iserver/account/%s/order/%d", account, orderID)
	if err := c.del(ctx, path, nil); err != nil {
		return fmt.Errorf("order cancel failed: %w", err)
	}
	return nil
}
