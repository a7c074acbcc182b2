package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bistbroker/internal/config"
	"bistbroker/internal/domain"
)

func testLimits() Limits {
	return LimitsFromConfig(config.Validation{
		MaxQuantity:   10000,
		MinPrice:      0.01,
		MaxPrice:      10000.0,
		MinOrderValue: 100.0,
		MaxOrderValue: 1000000.0,
	})
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func i64(v int64) *int64 { return &v }

func baseRequest() domain.OrderRequest {
	return domain.OrderRequest{
		UserID:   "u1",
		Symbol:   "AKBNK",
		Side:     domain.OrderSideBuy,
		Type:     domain.OrderTypeLimit,
		Quantity: 100,
		Price:    dec("17.25"),
	}
}

func TestOrderValid(t *testing.T) {
	res := Order(baseRequest(), testLimits(), time.Now())
	if !res.Valid() {
		t.Errorf("valid request rejected: %v", res.Errors)
	}
}

func TestOrderRules(t *testing.T) {
	now := time.Now()
	soon := now.Add(time.Minute)
	later := now.Add(time.Hour)

	tests := []struct {
		name    string
		mutate  func(*domain.OrderRequest)
		wantErr string
	}{
		{"lowercase symbol", func(r *domain.OrderRequest) { r.Symbol = "akbnk" }, "symbol"},
		{"short symbol", func(r *domain.OrderRequest) { r.Symbol = "A" }, "symbol"},
		{"long symbol", func(r *domain.OrderRequest) { r.Symbol = "ABCDEFG" }, "symbol"},
		{"zero quantity", func(r *domain.OrderRequest) { r.Quantity = 0 }, "quantity must be positive"},
		{"excess quantity", func(r *domain.OrderRequest) { r.Quantity = 10001 }, "exceeds maximum"},
		{"price below floor", func(r *domain.OrderRequest) { r.Price = dec("0.001"); r.Quantity = 10000 }, "below minimum"},
		{"price above cap", func(r *domain.OrderRequest) { r.Price = dec("10001") }, "exceeds maximum"},
		{"value below floor", func(r *domain.OrderRequest) { r.Price = dec("0.5"); r.Quantity = 10 }, "order value"},
		{"value above cap", func(r *domain.OrderRequest) { r.Price = dec("9999"); r.Quantity = 10000 }, "order value"},
		{"gtd too soon", func(r *domain.OrderRequest) {
			r.TimeInForce = domain.TimeInForceGTD
			r.GoodTillDate = &soon
		}, "good-till-date"},
		{"gtd missing expiry", func(r *domain.OrderRequest) { r.TimeInForce = domain.TimeInForceGTD }, "require an expiration"},
		{"gtd fine", func(r *domain.OrderRequest) {
			r.TimeInForce = domain.TimeInForceGTD
			r.GoodTillDate = &later
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			tt.mutate(&req)
			res := Order(req, testLimits(), now)

			if tt.wantErr == "" {
				if !res.Valid() {
					t.Errorf("unexpected errors: %v", res.Errors)
				}
				return
			}
			if res.Valid() {
				t.Fatalf("expected error containing %q, got none", tt.wantErr)
			}
			found := false
			for _, e := range res.Errors {
				if strings.Contains(e, tt.wantErr) {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v do not mention %q", res.Errors, tt.wantErr)
			}
		})
	}
}

func TestOrderAccumulatesErrors(t *testing.T) {
	req := baseRequest()
	req.Symbol = "akbnk"
	req.Quantity = 0
	req.Price = dec("10001")

	res := Order(req, testLimits(), time.Now())
	if len(res.Errors) < 3 {
		t.Errorf("got %d errors, want at least 3: %v", len(res.Errors), res.Errors)
	}
}

func TestStopLimitGeometry(t *testing.T) {
	tests := []struct {
		name  string
		side  domain.OrderSide
		price string
		stop  string
		valid bool
	}{
		{"buy stop above limit", domain.OrderSideBuy, "17.00", "17.50", true},
		{"buy stop equal to limit", domain.OrderSideBuy, "17.00", "17.00", false},
		{"buy stop below limit", domain.OrderSideBuy, "17.50", "17.00", false},
		{"sell stop below limit", domain.OrderSideSell, "17.50", "17.00", true},
		{"sell stop equal to limit", domain.OrderSideSell, "17.00", "17.00", false},
		{"sell stop above limit", domain.OrderSideSell, "17.00", "17.50", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			req.Type = domain.OrderTypeStopLimit
			req.Side = tt.side
			req.Price = dec(tt.price)
			req.StopPrice = dec(tt.stop)

			res := Order(req, testLimits(), time.Now())
			if res.Valid() != tt.valid {
				t.Errorf("valid = %v, want %v (errors: %v)", res.Valid(), tt.valid, res.Errors)
			}
		})
	}
}

func TestIcebergExactlyOneError(t *testing.T) {
	tests := []struct {
		name    string
		iceberg int64
	}{
		{"zero", 0},
		{"negative", -5},
		{"equal to quantity", 100},
		{"above quantity", 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			req.Type = domain.OrderTypeIceberg
			req.IcebergQuantity = i64(tt.iceberg)

			res := Order(req, testLimits(), time.Now())
			count := 0
			for _, e := range res.Errors {
				if strings.Contains(e, "iceberg") {
					count++
				}
			}
			if count != 1 {
				t.Errorf("iceberg errors = %d, want exactly 1: %v", count, res.Errors)
			}
		})
	}

	req := baseRequest()
	req.Type = domain.OrderTypeIceberg
	req.IcebergQuantity = i64(40)
	if res := Order(req, testLimits(), time.Now()); !res.Valid() {
		t.Errorf("valid iceberg rejected: %v", res.Errors)
	}
}

func TestModification(t *testing.T) {
	limits := testLimits()
	now := time.Now()
	order := domain.Order{
		ClientOrderID:  "u1-1-aa",
		Quantity:       100,
		FilledQuantity: 40,
		Status:         domain.OrderStatusPartiallyFilled,
	}

	if res := Modification(order, domain.ModifyRequest{}, limits, now); res.Valid() {
		t.Error("empty modification must be rejected")
	}

	res := Modification(order, domain.ModifyRequest{NewQuantity: i64(30)}, limits, now)
	if res.Valid() {
		t.Error("quantity below filled quantity must be rejected")
	}

	res = Modification(order, domain.ModifyRequest{NewQuantity: i64(60)}, limits, now)
	if !res.Valid() {
		t.Errorf("valid modification rejected: %v", res.Errors)
	}

	res = Modification(order, domain.ModifyRequest{NewPrice: dec("20000")}, limits, now)
	if res.Valid() {
		t.Error("out-of-bounds price must be rejected")
	}
}

func TestCancellation(t *testing.T) {
	if res := Cancellation("B-1", "u1"); !res.Valid() {
		t.Errorf("valid cancellation rejected: %v", res.Errors)
	}
	if res := Cancellation("", "u1"); res.Valid() {
		t.Error("missing order id must be rejected")
	}
	if res := Cancellation("B-1", ""); res.Valid() {
		t.Error("missing user id must be rejected")
	}
}
