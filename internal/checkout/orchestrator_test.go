package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IronblockT/bodega-galatica/internal/catalog"
	"github.com/IronblockT/bodega-galatica/internal/ledger"
	"github.com/IronblockT/bodega-galatica/internal/mercadopago"
	"github.com/IronblockT/bodega-galatica/internal/reservation"
)

type memCatalog struct{ quotes map[string]catalog.Quote }

func (m *memCatalog) Quote(ctx context.Context, skus []string) (map[string]catalog.Quote, error) {
	out := make(map[string]catalog.Quote)
	for _, s := range skus {
		if q, ok := m.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

// memEngine mirrors the reservation engine's semantics: all-or-nothing holds
// against shared stock counters, idempotent release.
type memEngine struct {
	mu    sync.Mutex
	stock map[string]int
	holds map[string][]reservation.Item
}

func newMemEngine(stock map[string]int) *memEngine {
	return &memEngine{stock: stock, holds: make(map[string][]reservation.Item)}
}

func (m *memEngine) Reserve(ctx context.Context, orderID string, items []reservation.Item) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holds[orderID]; ok {
		return time.Now().Add(time.Minute), nil
	}
	var short []reservation.ShortSKU
	for _, it := range items {
		if m.stock[it.SKU] < it.Qty {
			short = append(short, reservation.ShortSKU{SKU: it.SKU, Requested: it.Qty, Available: m.stock[it.SKU]})
		}
	}
	if len(short) > 0 {
		return time.Time{}, &reservation.InsufficientStockError{Short: short}
	}
	for _, it := range items {
		m.stock[it.SKU] -= it.Qty
	}
	m.holds[orderID] = items
	return time.Now().Add(time.Minute), nil
}

func (m *memEngine) Release(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.holds[orderID] {
		m.stock[it.SKU] += it.Qty
	}
	delete(m.holds, orderID)
	return nil
}

type memLedger struct {
	mu      sync.Mutex
	seq     int
	orders  map[string]ledger.Status
	reasons map[string]string
	pending map[string]string // orderID -> preference id
	engine  *memEngine
}

func newMemLedger(e *memEngine) *memLedger {
	return &memLedger{
		orders:  make(map[string]ledger.Status),
		reasons: make(map[string]string),
		pending: make(map[string]string),
		engine:  e,
	}
}

func (m *memLedger) CreateDraft(ctx context.Context, userID, currency string, items []ledger.NewItem) (ledger.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("ord-%d", m.seq)
	m.orders[id] = ledger.StatusDraft
	var total int64
	for _, it := range items {
		total += it.UnitPriceCents * int64(it.Qty)
	}
	return ledger.Order{ID: id, UserID: userID, Status: ledger.StatusDraft, TotalCents: total, Currency: currency}, nil
}

func (m *memLedger) transition(orderID string, from, to ledger.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orders[orderID] != from {
		return fmt.Errorf("order %s: cannot move %s -> %s", orderID, m.orders[orderID], to)
	}
	m.orders[orderID] = to
	return nil
}

func (m *memLedger) MarkReserved(ctx context.Context, orderID string) error {
	return m.transition(orderID, ledger.StatusDraft, ledger.StatusReserved)
}

func (m *memLedger) MarkAwaitingPayment(ctx context.Context, orderID string) error {
	return m.transition(orderID, ledger.StatusReserved, ledger.StatusAwaitingPayment)
}

func (m *memLedger) Cancel(ctx context.Context, orderID, reason string) error {
	m.mu.Lock()
	if m.orders[orderID] == ledger.StatusPaid {
		m.mu.Unlock()
		return ledger.ErrTerminalConflict
	}
	m.orders[orderID] = ledger.StatusCancelled
	m.reasons[orderID] = reason
	m.mu.Unlock()
	return m.engine.Release(ctx, orderID)
}

func (m *memLedger) RecordPendingPayment(ctx context.Context, orderID, provider, preferenceID string, amountCents int64, currency string, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[orderID] = preferenceID
	return nil
}

type memGateway struct {
	mu    sync.Mutex
	fail  bool
	calls atomic.Int32
	last  mercadopago.PreferenceRequest
}

func (m *memGateway) CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (mercadopago.Preference, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.last = req
	m.mu.Unlock()
	if m.fail {
		return mercadopago.Preference{}, errors.New("mercadopago: status 500")
	}
	return mercadopago.Preference{ID: "pref-1", InitPoint: "https://mp.example/init/pref-1", Raw: []byte(`{}`)}, nil
}

func (m *memGateway) lastRequest() mercadopago.PreferenceRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func testOrchestrator(stock map[string]int) (*Orchestrator, *memEngine, *memLedger, *memGateway) {
	engine := newMemEngine(stock)
	l := newMemLedger(engine)
	gw := &memGateway{}
	o := &Orchestrator{
		Catalog: &memCatalog{quotes: map[string]catalog.Quote{
			"CARD-1::NM": {SKU: "CARD-1::NM", Title: "Darth Vader", UnitPriceCents: 5000, Available: true},
			"CARD-2::NM": {SKU: "CARD-2::NM", Title: "Luke Skywalker", UnitPriceCents: 2500, Available: true},
			"CARD-FREE":  {SKU: "CARD-FREE", Title: "Unpriced", UnitPriceCents: 0, Available: true},
		}},
		Ledger:       l,
		Reservations: engine,
		Gateway:      gw,
		AppURL:       "https://shop.example",
		Currency:     "BRL",
	}
	return o, engine, l, gw
}

func TestCreateCheckout_Success(t *testing.T) {
	o, engine, l, gw := testOrchestrator(map[string]int{"CARD-1::NM": 3, "CARD-2::NM": 1})

	res, err := o.CreateCheckout(context.Background(), Request{
		UserID: "user-1",
		Items:  []ItemRequest{{SKU: "CARD-1::NM", Qty: 2}, {SKU: "CARD-2::NM", Qty: 1}},
		Payer:  &PayerInfo{Email: "buyer@example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PreferenceID != "pref-1" || res.RedirectURL == "" {
		t.Errorf("unexpected result: %+v", res)
	}
	if l.orders[res.OrderID] != ledger.StatusAwaitingPayment {
		t.Errorf("order status = %s, want awaiting_payment", l.orders[res.OrderID])
	}
	if engine.stock["CARD-1::NM"] != 1 || engine.stock["CARD-2::NM"] != 0 {
		t.Errorf("stock not held: %v", engine.stock)
	}
	if l.pending[res.OrderID] != "pref-1" {
		t.Errorf("pending payment not recorded: %v", l.pending)
	}
	sent := gw.lastRequest()
	if sent.ExternalReference != res.OrderID {
		t.Errorf("external reference = %q, want order id", sent.ExternalReference)
	}
	if sent.Payer == nil || sent.Payer.Email != "buyer@example.com" {
		t.Errorf("payer not forwarded: %+v", sent.Payer)
	}
}

func TestCreateCheckout_Validation(t *testing.T) {
	o, _, l, _ := testOrchestrator(map[string]int{})
	cases := []Request{
		{UserID: "", Items: []ItemRequest{{SKU: "CARD-1::NM", Qty: 1}}},
		{UserID: "u", Items: nil},
		{UserID: "u", Items: []ItemRequest{{SKU: "CARD-1::NM", Qty: 0}}},
		{UserID: "u", Items: []ItemRequest{{SKU: "", Qty: 1}}},
	}
	for i, req := range cases {
		var verr *ValidationError
		if _, err := o.CreateCheckout(context.Background(), req); !errors.As(err, &verr) {
			t.Errorf("case %d: expected ValidationError, got %v", i, err)
		}
	}
	if len(l.orders) != 0 {
		t.Errorf("validation failures must create no orders, got %d", len(l.orders))
	}
}

func TestCreateCheckout_PricingError(t *testing.T) {
	o, _, l, _ := testOrchestrator(map[string]int{})

	_, err := o.CreateCheckout(context.Background(), Request{
		UserID: "u",
		Items:  []ItemRequest{{SKU: "NOPE", Qty: 1}, {SKU: "CARD-FREE", Qty: 1}},
	})
	var perr *PricingError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PricingError, got %v", err)
	}
	if len(perr.SKUs) != 2 {
		t.Errorf("short SKUs = %v, want both offenders", perr.SKUs)
	}
	if len(l.orders) != 0 {
		t.Error("pricing failure must happen before any order is created")
	}
}

func TestCreateCheckout_InsufficientStock(t *testing.T) {
	o, engine, l, gw := testOrchestrator(map[string]int{"CARD-1::NM": 1})

	_, err := o.CreateCheckout(context.Background(), Request{
		UserID: "u",
		Items:  []ItemRequest{{SKU: "CARD-1::NM", Qty: 2}},
	})
	var short *reservation.InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if len(short.Short) != 1 || short.Short[0].SKU != "CARD-1::NM" {
		t.Errorf("short list = %+v", short.Short)
	}
	if l.orders["ord-1"] != ledger.StatusCancelled {
		t.Errorf("order status = %s, want cancelled", l.orders["ord-1"])
	}
	if engine.stock["CARD-1::NM"] != 1 {
		t.Errorf("no partial hold may remain; stock = %d", engine.stock["CARD-1::NM"])
	}
	if gw.calls.Load() != 0 {
		t.Error("provider must not be called when the reservation fails")
	}
}

// Saga atomicity: a provider failure after a successful reservation ends with
// the order cancelled and the stock back on the shelf.
func TestCreateCheckout_ProviderFailureCompensates(t *testing.T) {
	o, engine, l, gw := testOrchestrator(map[string]int{"CARD-1::NM": 2})
	gw.fail = true

	_, err := o.CreateCheckout(context.Background(), Request{
		UserID: "u",
		Items:  []ItemRequest{{SKU: "CARD-1::NM", Qty: 2}},
	})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if l.orders["ord-1"] != ledger.StatusCancelled {
		t.Errorf("order status = %s, want cancelled", l.orders["ord-1"])
	}
	if engine.stock["CARD-1::NM"] != 2 {
		t.Errorf("reservation must be released, stock = %d", engine.stock["CARD-1::NM"])
	}
	if len(engine.holds) != 0 {
		t.Errorf("holds must be empty, got %v", engine.holds)
	}
}

func TestCreateCheckout_ConcurrentStockInvariant(t *testing.T) {
	const initialStock = 5
	const buyers = 20

	o, engine, l, _ := testOrchestrator(map[string]int{"CARD-1::NM": initialStock})

	var success, conflict atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := o.CreateCheckout(context.Background(), Request{
				UserID: fmt.Sprintf("user-%d", n),
				Items:  []ItemRequest{{SKU: "CARD-1::NM", Qty: 1}},
			})
			var short *reservation.InsufficientStockError
			switch {
			case err == nil:
				success.Add(1)
			case errors.As(err, &short):
				conflict.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if success.Load() != initialStock {
		t.Errorf("successes = %d, want %d", success.Load(), initialStock)
	}
	if conflict.Load() != buyers-initialStock {
		t.Errorf("conflicts = %d, want %d", conflict.Load(), buyers-initialStock)
	}
	if engine.stock["CARD-1::NM"] != 0 {
		t.Errorf("stock = %d, want 0", engine.stock["CARD-1::NM"])
	}
	var awaiting int
	for _, st := range l.orders {
		if st == ledger.StatusAwaitingPayment {
			awaiting++
		}
	}
	if awaiting != initialStock {
		t.Errorf("orders awaiting payment = %d, want %d", awaiting, initialStock)
	}
}
