package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/models"
	"github.com/eddiefleurent/schrute_books/internal/occ"
)

// APIError represents an API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// TradierAPI is the HTTP client for the brokerage's REST API.
type TradierAPI struct {
	client    *http.Client
	apiKey    string
	baseURL   string
	accountID string
	sandbox   bool
}

// NewTradierAPI creates a new API client with default settings.
func NewTradierAPI(apiKey, accountID string, sandbox bool) *TradierAPI {
	return NewTradierAPIWithBaseURL(apiKey, accountID, sandbox, "")
}

// NewTradierAPIWithBaseURL creates a new API client against a custom base URL
// (tests point this at an httptest server).
func NewTradierAPIWithBaseURL(apiKey, accountID string, sandbox bool, baseURL string) *TradierAPI {
	if baseURL == "" {
		if sandbox {
			baseURL = "https://sandbox.tradier.com/v1"
		} else {
			baseURL = "https://api.tradier.com/v1"
		}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &TradierAPI{
		apiKey:    apiKey,
		baseURL:   baseURL,
		accountID: accountID,
		client:    &http.Client{Timeout: 10 * time.Second},
		sandbox:   sandbox,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (t *TradierAPI) WithHTTPClient(c *http.Client) *TradierAPI {
	if c != nil {
		t.client = c
	}
	return t
}

// ============ API Response Structures ============

// singleOrArray handles single-object vs array responses from the API.
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

type positionsResponse struct {
	Positions positionsWrapper `json:"positions"`
}

// positionsWrapper handles the case where positions can be the string "null"
// or an object.
type positionsWrapper struct {
	Position singleOrArray[positionItem] `json:"position"`
}

func (pw *positionsWrapper) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if bytes.Equal(trimmed, []byte(`null`)) || bytes.Equal(trimmed, []byte(`"null"`)) {
		*pw = positionsWrapper{}
		return nil
	}
	type normalWrapper positionsWrapper
	return json.Unmarshal(b, (*normalWrapper)(pw))
}

type positionItem struct {
	Symbol    string  `json:"symbol"`
	CostBasis float64 `json:"cost_basis"`
	Quantity  float64 `json:"quantity"`
	Mark      float64 `json:"mark"`
	ID        int     `json:"id"`
}

type ordersResponse struct {
	Orders ordersWrapper `json:"orders"`
}

type ordersWrapper struct {
	Order singleOrArray[orderItem] `json:"order"`
}

func (ow *ordersWrapper) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if bytes.Equal(trimmed, []byte(`null`)) || bytes.Equal(trimmed, []byte(`"null"`)) {
		*ow = ordersWrapper{}
		return nil
	}
	type normalWrapper ordersWrapper
	return json.Unmarshal(b, (*normalWrapper)(ow))
}

type orderResponse struct {
	Order orderItem `json:"order"`
}

type orderItem struct {
	ID              int64                   `json:"id"`
	Status          string                  `json:"status"`
	Symbol          string                  `json:"symbol"`
	Class           string                  `json:"class"`
	CreateDate      string                  `json:"create_date"`
	TransactionDate string                  `json:"transaction_date"`
	Legs            singleOrArray[orderLeg] `json:"leg"`
}

type orderLeg struct {
	OptionSymbol    string  `json:"option_symbol"`
	Side            string  `json:"side"`
	Quantity        float64 `json:"quantity"`
	ExecQuantity    float64 `json:"exec_quantity"`
	AvgFillPrice    float64 `json:"avg_fill_price"`
	TransactionDate string  `json:"transaction_date"`
}

type eventsResponse struct {
	History struct {
		Event singleOrArray[eventItem] `json:"event"`
	} `json:"history"`
}

type eventItem struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
	Trade  *struct {
		OrderID     json.Number `json:"order_id"`
		Description string      `json:"description"`
		Symbol      string      `json:"symbol"`
		TradeType   string      `json:"trade_type"`
		Side        string      `json:"side"`
		Quantity    float64     `json:"quantity"`
		Price       float64     `json:"price"`
		Commission  float64     `json:"commission"`
		Fees        float64     `json:"fees"`
	} `json:"trade"`
}

// ============ API Methods ============

// GetPositionsCtx retrieves the aggregate open contracts for the account.
// A "null" positions payload is a legitimately flat account and yields an
// empty slice; transport and HTTP errors propagate so callers can distinguish
// "no snapshot" from "no positions".
func (t *TradierAPI) GetPositionsCtx(ctx context.Context) ([]SnapshotEntry, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/positions", t.baseURL, t.accountID)

	var response positionsResponse
	if err := t.makeRequestCtx(ctx, "GET", endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}

	entries := make([]SnapshotEntry, 0, len(response.Positions.Position))
	for _, item := range response.Positions.Position {
		avgPrice := 0.0
		if item.Quantity != 0 {
			avgPrice = item.CostBasis / item.Quantity
		}
		entries = append(entries, SnapshotEntry{
			OCCSymbol:  item.Symbol,
			Underlying: occ.Underlying(item.Symbol),
			Quantity:   item.Quantity,
			AvgPrice:   avgPrice,
			Mark:       item.Mark,
		})
	}
	return entries, nil
}

// GetOrdersCtx retrieves orders placed since the given time, with legs.
func (t *TradierAPI) GetOrdersCtx(ctx context.Context, since time.Time) ([]models.CachedOrder, error) {
	params := url.Values{}
	params.Set("includeTags", "true")
	if !since.IsZero() {
		params.Set("start", since.UTC().Format("2006-01-02"))
	}
	endpoint := fmt.Sprintf("%s/accounts/%s/orders?%s", t.baseURL, t.accountID, params.Encode())

	var response ordersResponse
	if err := t.makeRequestCtx(ctx, "GET", endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("fetching orders: %w", err)
	}

	orders := make([]models.CachedOrder, 0, len(response.Orders.Order))
	for _, item := range response.Orders.Order {
		order, err := convertOrder(item)
		if err != nil {
			// Skip equity and otherwise unconvertible orders; the ledger only
			// tracks option orders with recognizable legs.
			continue
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// GetOrderStatusCtx retrieves a single order by broker order id.
func (t *TradierAPI) GetOrderStatusCtx(ctx context.Context, orderID int64) (*models.CachedOrder, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/orders/%d?includeTags=true", t.baseURL, t.accountID, orderID)

	var response orderResponse
	if err := t.makeRequestCtx(ctx, "GET", endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("fetching order %d: %w", orderID, err)
	}
	return convertOrder(response.Order)
}

// GetAccountEventsCtx retrieves fill transactions recorded since the given
// time. Non-trade events (dividends, wires) are filtered out.
func (t *TradierAPI) GetAccountEventsCtx(ctx context.Context, since time.Time) ([]models.Transaction, error) {
	params := url.Values{}
	params.Set("type", "trade")
	if !since.IsZero() {
		params.Set("start", since.UTC().Format("2006-01-02"))
	}
	endpoint := fmt.Sprintf("%s/accounts/%s/history?%s", t.baseURL, t.accountID, params.Encode())

	var response eventsResponse
	if err := t.makeRequestCtx(ctx, "GET", endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("fetching account events: %w", err)
	}

	txs := make([]models.Transaction, 0, len(response.History.Event))
	for _, item := range response.History.Event {
		if item.Type != "trade" || item.Trade == nil {
			continue
		}
		action, err := models.ParseLegAction(item.Trade.Side)
		if err != nil {
			continue
		}
		executedAt, err := parseEventDate(item.Date)
		if err != nil {
			continue
		}
		symbol := ""
		underlying := item.Trade.Symbol
		if occ.IsOption(item.Trade.Symbol) {
			symbol = item.Trade.Symbol
			underlying = occ.Underlying(item.Trade.Symbol)
		}
		txs = append(txs, models.Transaction{
			ID:         item.ID,
			OrderID:    item.Trade.OrderID.String(),
			Action:     action,
			OCCSymbol:  symbol,
			Underlying: underlying,
			Quantity:   int(item.Trade.Quantity),
			Price:      item.Trade.Price,
			Value:      item.Amount,
			Fees: models.FeeBreakdown{
				Commission: item.Trade.Commission,
				Other:      item.Trade.Fees,
			},
			ExecutedAt: executedAt,
		})
	}
	return txs, nil
}

// convertOrder maps a wire order onto the immutable ledger record, normalizing
// leg actions once at ingestion.
func convertOrder(item orderItem) (*models.CachedOrder, error) {
	if len(item.Legs) == 0 {
		return nil, fmt.Errorf("order %d has no option legs", item.ID)
	}

	createdAt, err := parseEventDate(item.CreateDate)
	if err != nil {
		return nil, fmt.Errorf("order %d: bad create_date %q: %w", item.ID, item.CreateDate, err)
	}

	legs := make([]models.OrderLeg, 0, len(item.Legs))
	for _, raw := range item.Legs {
		action, err := models.ParseLegAction(raw.Side)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", item.ID, err)
		}
		leg := models.OrderLeg{
			OCCSymbol: raw.OptionSymbol,
			Action:    action,
			Quantity:  int(raw.Quantity),
		}
		if raw.ExecQuantity > 0 {
			fillTime, err := parseEventDate(raw.TransactionDate)
			if err != nil {
				fillTime = createdAt
			}
			leg.Fills = []models.Fill{{
				Price:    raw.AvgFillPrice,
				Quantity: int(raw.ExecQuantity),
				Time:     fillTime,
			}}
		}
		legs = append(legs, leg)
	}

	return &models.CachedOrder{
		ID:         item.ID,
		Status:     normalizeOrderStatus(item.Status),
		Underlying: item.Symbol,
		CreatedAt:  createdAt,
		Legs:       legs,
	}, nil
}

func normalizeOrderStatus(raw string) models.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "filled":
		return models.OrderStatusFilled
	case "partially_filled":
		return models.OrderStatusPartiallyFilled
	case "open", "pending", "submitted":
		return models.OrderStatusOpen
	case "canceled", "cancelled":
		return models.OrderStatusCanceled
	case "rejected", "error":
		return models.OrderStatusRejected
	case "expired":
		return models.OrderStatusExpired
	default:
		return models.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	}
}

// parseEventDate accepts the two timestamp shapes the API emits.
func parseEventDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// makeRequestCtx makes an HTTP request with context support for
// timeout/cancellation.
func (t *TradierAPI) makeRequestCtx(ctx context.Context, method, endpoint string,
	params url.Values, response interface{}) error {
	var req *http.Request
	var err error

	if method == "POST" && params != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("Authorization", "Bearer "+t.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "schrute-books/1.0 (+tradier)")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		ct := resp.Header.Get("Content-Type")
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s (%s) -> %s (retry-after: %s)", method, endpoint, ct, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s (%s) -> %s", method, endpoint, ct, string(body))}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
