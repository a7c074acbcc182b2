package pipeline

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"bistbroker/internal/algolab"
	"bistbroker/internal/config"
	"bistbroker/internal/domain"
	"bistbroker/internal/util"
	"bistbroker/internal/validate"
)

type fakeBroker struct {
	mu sync.Mutex

	submitAck *algolab.OrderAck
	submitErr error
	cancelAck *algolab.OrderAck
	cancelErr error
	modifyAck *algolab.OrderAck
	modifyErr error
	active    []domain.Order

	submitted []domain.Order
	cancelled []string
	modified  []string
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, creds algolab.Credentials, order *domain.Order) (*algolab.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, *order)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.submitAck != nil {
		return f.submitAck, nil
	}
	return &algolab.OrderAck{BrokerOrderID: "B-1", ClientOrderID: order.ClientOrderID, Status: domain.OrderStatusNew}, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, creds algolab.Credentials, brokerOrderID string) (*algolab.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, brokerOrderID)
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	if f.cancelAck != nil {
		return f.cancelAck, nil
	}
	return &algolab.OrderAck{BrokerOrderID: brokerOrderID, Status: domain.OrderStatusCancelled}, nil
}

func (f *fakeBroker) ModifyOrder(ctx context.Context, creds algolab.Credentials, brokerOrderID string, mod domain.ModifyRequest) (*algolab.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modified = append(f.modified, brokerOrderID)
	if f.modifyErr != nil {
		return nil, f.modifyErr
	}
	if f.modifyAck != nil {
		return f.modifyAck, nil
	}
	return &algolab.OrderAck{BrokerOrderID: brokerOrderID, Status: domain.OrderStatusNew}, nil
}

func (f *fakeBroker) ActiveOrders(ctx context.Context, creds algolab.Credentials, userID string) ([]domain.Order, error) {
	return f.active, nil
}

func (f *fakeBroker) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type fakeSessions struct {
	err error
}

func (f fakeSessions) Credentials() (algolab.Credentials, error) {
	if f.err != nil {
		return algolab.Credentials{}, f.err
	}
	return algolab.Credentials{Token: "tok", Hash: "hash"}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	orders []domain.OrderEvent
}

func (f *fakePublisher) PublishOrder(ctx context.Context, evt domain.OrderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, evt)
	return f.err
}

func (f *fakePublisher) PublishPortfolio(ctx context.Context, evt domain.PortfolioEvent) error {
	return f.err
}

func (f *fakePublisher) lastEvent() (domain.OrderEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.orders) == 0 {
		return domain.OrderEvent{}, false
	}
	return f.orders[len(f.orders)-1], true
}

func testLimits() validate.Limits {
	return validate.LimitsFromConfig(config.Validation{
		MaxQuantity:   10000,
		MinPrice:      0.01,
		MaxPrice:      10000.0,
		MinOrderValue: 100.0,
		MaxOrderValue: 1000000.0,
	})
}

type fixture struct {
	broker  *fakeBroker
	tracker *MemoryTracker
	events  *fakePublisher
	p       *Pipeline
}

func newFixture(broker *fakeBroker, sessions Sessions, risk RiskChecker) *fixture {
	f := &fixture{
		broker:  broker,
		tracker: NewMemoryTracker(),
		events:  &fakePublisher{},
	}
	f.p = New(broker, sessions, risk, f.tracker, f.events, testLimits(), util.NewLogger("error", "json"))
	return f
}

func limitBuyRequest() domain.OrderRequest {
	price := decimal.RequireFromString("17.25")
	return domain.OrderRequest{
		UserID:   "u1",
		Symbol:   "AKBNK",
		Side:     domain.OrderSideBuy,
		Type:     domain.OrderTypeLimit,
		Quantity: 100,
		Price:    &price,
	}
}

var clientOrderIDPattern = regexp.MustCompile(`^u1-\d{13}-[0-9a-f]{8}$`)

func TestSubmitSuccess(t *testing.T) {
	f := newFixture(&fakeBroker{}, fakeSessions{}, StaticRisk{Approved: true})

	order, err := f.p.Submit(context.Background(), limitBuyRequest())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if order.Status != domain.OrderStatusNew {
		t.Errorf("Status = %q, want NEW", order.Status)
	}
	if !clientOrderIDPattern.MatchString(order.ClientOrderID) {
		t.Errorf("ClientOrderID %q does not match userID-epochMillis-suffix", order.ClientOrderID)
	}
	if order.BrokerOrderID != "B-1" {
		t.Errorf("BrokerOrderID = %q, want B-1", order.BrokerOrderID)
	}

	tracked, ok := f.tracker.TrackedOrder(context.Background(), order.ClientOrderID)
	if !ok {
		t.Fatal("order is not tracked after submission")
	}
	if tracked.BrokerOrderID != "B-1" {
		t.Errorf("tracked BrokerOrderID = %q, want B-1", tracked.BrokerOrderID)
	}

	evt, ok := f.events.lastEvent()
	if !ok || evt.Type != domain.OrderEventSubmitted {
		t.Errorf("last event = %+v, want ORDER_SUBMITTED", evt)
	}
}

func TestSubmitValidationRejected(t *testing.T) {
	f := newFixture(&fakeBroker{}, fakeSessions{}, StaticRisk{Approved: true})

	req := limitBuyRequest()
	req.Symbol = "akbnk"

	_, err := f.p.Submit(context.Background(), req)
	var cerr *algolab.Error
	if !errors.As(err, &cerr) || cerr.Kind != algolab.KindValidation {
		t.Fatalf("error = %v, want VALIDATION kind", err)
	}
	if f.broker.submitCount() != 0 {
		t.Error("broker must not be called for an invalid order")
	}

	evt, ok := f.events.lastEvent()
	if !ok || evt.Type != domain.OrderEventRejected {
		t.Errorf("last event = %+v, want ORDER_REJECTED", evt)
	}
}

func TestSubmitRiskRejected(t *testing.T) {
	f := newFixture(&fakeBroker{}, fakeSessions{}, StaticRisk{Approved: false, Reason: "position limit"})

	_, err := f.p.Submit(context.Background(), limitBuyRequest())
	var cerr *algolab.Error
	if !errors.As(err, &cerr) || cerr.Kind != algolab.KindOrder {
		t.Fatalf("error = %v, want ORDER kind", err)
	}
	if !strings.Contains(cerr.Message, "position limit") {
		t.Errorf("Message = %q, want risk reason included", cerr.Message)
	}
	if f.broker.submitCount() != 0 {
		t.Error("broker must not be called for a risk-rejected order")
	}
}

func TestSubmitRateLimited(t *testing.T) {
	broker := &fakeBroker{submitErr: algolab.ClassifyStatus(429, "", 0)}
	f := newFixture(broker, fakeSessions{}, StaticRisk{Approved: true})

	_, err := f.p.Submit(context.Background(), limitBuyRequest())
	var cerr *algolab.Error
	if !errors.As(err, &cerr) || cerr.Kind != algolab.KindRateLimit {
		t.Fatalf("error = %v, want RATE_LIMIT kind", err)
	}

	if len(broker.submitted) != 1 {
		t.Fatalf("broker submit called %d times, want 1", len(broker.submitted))
	}
	clientOrderID := broker.submitted[0].ClientOrderID

	reason, ok := f.tracker.FailureReason(clientOrderID)
	if !ok {
		t.Fatal("tracker has no failure reason for the order")
	}
	if !strings.HasPrefix(reason, "rate limit exceeded") {
		t.Errorf("failure reason = %q, want prefix %q", reason, "rate limit exceeded")
	}

	tracked, ok := f.tracker.TrackedOrder(context.Background(), clientOrderID)
	if !ok || tracked.Status != domain.OrderStatusRejected {
		t.Errorf("tracked order = %+v, want REJECTED", tracked)
	}
}

func TestSubmitNotAuthenticated(t *testing.T) {
	f := newFixture(&fakeBroker{}, fakeSessions{err: algolab.NewError(algolab.KindAuthentication, "not authenticated")}, StaticRisk{Approved: true})

	_, err := f.p.Submit(context.Background(), limitBuyRequest())
	var cerr *algolab.Error
	if !errors.As(err, &cerr) || cerr.Kind != algolab.KindAuthentication {
		t.Fatalf("error = %v, want AUTHENTICATION kind", err)
	}
	if f.broker.submitCount() != 0 {
		t.Error("broker must not be called without credentials")
	}
}

func TestSubmitPublishFailureDoesNotInvalidateOrder(t *testing.T) {
	f := newFixture(&fakeBroker{}, fakeSessions{}, StaticRisk{Approved: true})
	f.events.err = errors.New("broker topic unavailable")

	order, err := f.p.Submit(context.Background(), limitBuyRequest())
	if err != nil {
		t.Fatalf("Submit must succeed despite a publish failure, got: %v", err)
	}
	if order.Status != domain.OrderStatusNew {
		t.Errorf("Status = %q, want NEW", order.Status)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(&fakeBroker{}, fakeSessions{}, StaticRisk{Approved: true})

	order, err := f.p.Cancel(context.Background(), "B-9", "u1")
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Errorf("Status = %q, want CANCELLED", order.Status)
	}

	evt, ok := f.events.lastEvent()
	if !ok || evt.Type != domain.OrderEventCancelled {
		t.Errorf("last event = %+v, want ORDER_CANCELLED", evt)
	}
}

func TestCancelValidation(t *testing.T) {
	f := newFixture(&fakeBroker{}, fakeSessions{}, StaticRisk{Approved: true})

	_, err := f.p.Cancel(context.Background(), "", "u1")
	var cerr *algolab.Error
	if !errors.As(err, &cerr) || cerr.Kind != algolab.KindValidation {
		t.Fatalf("error = %v, want VALIDATION kind", err)
	}
	if len(f.broker.cancelled) != 0 {
		t.Error("broker must not be called for an invalid cancel")
	}
}

func TestModifyBelowFilledQuantity(t *testing.T) {
	f := newFixture(&fakeBroker{}, fakeSessions{}, StaticRisk{Approved: true})

	// Seed a partially filled tracked order under broker ID B-5.
	f.tracker.UpdateOrderResponse(context.Background(), &domain.Order{
		ClientOrderID:  "u1-1-abcd1234",
		BrokerOrderID:  "B-5",
		Quantity:       100,
		FilledQuantity: 40,
		Status:         domain.OrderStatusPartiallyFilled,
	})

	newQty := int64(30)
	_, err := f.p.Modify(context.Background(), "B-5", "u1", domain.ModifyRequest{NewQuantity: &newQty})
	var cerr *algolab.Error
	if !errors.As(err, &cerr) || cerr.Kind != algolab.KindValidation {
		t.Fatalf("error = %v, want VALIDATION kind", err)
	}
	if len(f.broker.modified) != 0 {
		t.Error("broker must not be called when the shrink undercuts fills")
	}
}

func TestModifySuccess(t *testing.T) {
	f := newFixture(&fakeBroker{}, fakeSessions{}, StaticRisk{Approved: true})

	newQty := int64(200)
	order, err := f.p.Modify(context.Background(), "B-5", "u1", domain.ModifyRequest{NewQuantity: &newQty})
	if err != nil {
		t.Fatalf("Modify returned error: %v", err)
	}
	if order.BrokerOrderID != "B-5" {
		t.Errorf("BrokerOrderID = %q, want B-5", order.BrokerOrderID)
	}

	evt, ok := f.events.lastEvent()
	if !ok || evt.Type != domain.OrderEventModified {
		t.Errorf("last event = %+v, want ORDER_MODIFIED", evt)
	}
}

func TestModifyEmptyRequest(t *testing.T) {
	f := newFixture(&fakeBroker{}, fakeSessions{}, StaticRisk{Approved: true})

	_, err := f.p.Modify(context.Background(), "B-5", "u1", domain.ModifyRequest{})
	var cerr *algolab.Error
	if !errors.As(err, &cerr) || cerr.Kind != algolab.KindValidation {
		t.Fatalf("error = %v, want VALIDATION kind", err)
	}
}

func TestActiveOrders(t *testing.T) {
	broker := &fakeBroker{active: []domain.Order{{BrokerOrderID: "B-1"}, {BrokerOrderID: "B-2"}}}
	f := newFixture(broker, fakeSessions{}, StaticRisk{Approved: true})

	orders, err := f.p.ActiveOrders(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ActiveOrders returned error: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("len(orders) = %d, want 2", len(orders))
	}
}

func TestMemoryTrackerSparseUpdateKeepsIdentity(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	price := decimal.RequireFromString("17.25")
	tr.StartTracking(ctx, &domain.Order{
		ClientOrderID: "u1-1-abcd1234",
		UserID:        "u1",
		Symbol:        "AKBNK",
		Side:          domain.OrderSideBuy,
		Type:          domain.OrderTypeLimit,
		Quantity:      100,
		Price:         &price,
		Status:        domain.OrderStatusNew,
	})

	// Stream updates carry only IDs, status, and fill progress.
	tr.UpdateOrderResponse(ctx, &domain.Order{
		ClientOrderID:  "u1-1-abcd1234",
		BrokerOrderID:  "B-7",
		Status:         domain.OrderStatusPartiallyFilled,
		FilledQuantity: 40,
	})

	got, ok := tr.TrackedOrder(ctx, "u1-1-abcd1234")
	if !ok {
		t.Fatal("order not tracked")
	}
	if got.Status != domain.OrderStatusPartiallyFilled || got.FilledQuantity != 40 {
		t.Errorf("order = %s with %d filled, want PARTIALLY_FILLED with 40", got.Status, got.FilledQuantity)
	}
	if got.UserID != "u1" || got.Symbol != "AKBNK" || got.Quantity != 100 {
		t.Errorf("identity fields lost on sparse update: %+v", got)
	}
	if got.Price == nil || !got.Price.Equal(price) {
		t.Errorf("Price = %v, want %s", got.Price, price)
	}
	if got.BrokerOrderID != "B-7" {
		t.Errorf("BrokerOrderID = %q, want B-7", got.BrokerOrderID)
	}

	// The broker ID learned from the update must resolve too.
	if _, ok := tr.TrackedOrder(ctx, "B-7"); !ok {
		t.Error("order not resolvable by broker order ID")
	}
}

func TestMemoryTrackerIgnoresStatusRegression(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	tr.StartTracking(ctx, &domain.Order{ClientOrderID: "c1", Quantity: 100, Status: domain.OrderStatusNew})
	tr.UpdateOrderResponse(ctx, &domain.Order{ClientOrderID: "c1", Status: domain.OrderStatusPartiallyFilled, FilledQuantity: 10})

	// A late NEW acknowledgement must not roll the order back.
	tr.UpdateOrderResponse(ctx, &domain.Order{ClientOrderID: "c1", Status: domain.OrderStatusNew})

	got, ok := tr.TrackedOrder(ctx, "c1")
	if !ok {
		t.Fatal("order not tracked")
	}
	if got.Status != domain.OrderStatusPartiallyFilled {
		t.Errorf("Status = %q, want PARTIALLY_FILLED after a late NEW update", got.Status)
	}
	if got.FilledQuantity != 10 {
		t.Errorf("FilledQuantity = %d, want 10", got.FilledQuantity)
	}
}

func TestMemoryTrackerTerminalImmutable(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	tr.UpdateOrderResponse(ctx, &domain.Order{ClientOrderID: "c1", BrokerOrderID: "B-1", Status: domain.OrderStatusFilled})
	tr.UpdateOrderResponse(ctx, &domain.Order{ClientOrderID: "c1", Status: domain.OrderStatusCancelled})

	got, ok := tr.TrackedOrder(ctx, "c1")
	if !ok {
		t.Fatal("order not tracked")
	}
	if got.Status != domain.OrderStatusFilled {
		t.Errorf("Status = %q, terminal state must not change", got.Status)
	}
}
