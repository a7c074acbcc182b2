// Package validate applies the exchange's pre-submission order rules. All
// checks are pure: every violated rule is reported, not just the first.
package validate

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"bistbroker/internal/config"
	"bistbroker/internal/domain"
)

// minGTDLead is the smallest allowed distance between now and a
// good-till-date expiration.
const minGTDLead = 5 * time.Minute

var symbolPattern = regexp.MustCompile(`^[A-Z]{2,6}$`)

// Limits holds the configured numeric bounds on a single order.
type Limits struct {
	MaxQuantity   int64
	MinPrice      decimal.Decimal
	MaxPrice      decimal.Decimal
	MinOrderValue decimal.Decimal
	MaxOrderValue decimal.Decimal
}

// LimitsFromConfig converts the configuration section into decimal bounds.
func LimitsFromConfig(v config.Validation) Limits {
	return Limits{
		MaxQuantity:   v.MaxQuantity,
		MinPrice:      decimal.NewFromFloat(v.MinPrice),
		MaxPrice:      decimal.NewFromFloat(v.MaxPrice),
		MinOrderValue: decimal.NewFromFloat(v.MinOrderValue),
		MaxOrderValue: decimal.NewFromFloat(v.MaxOrderValue),
	}
}

// Result accumulates rule violations for one request.
type Result struct {
	Errors []string
}

// Valid reports whether no rule was violated.
func (r Result) Valid() bool { return len(r.Errors) == 0 }

func (r *Result) addf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Order checks a submission against every rule and returns all violations.
func Order(req domain.OrderRequest, limits Limits, now time.Time) Result {
	var res Result

	if !symbolPattern.MatchString(req.Symbol) {
		res.addf("symbol %q must be 2-6 uppercase letters", req.Symbol)
	}

	if req.Quantity <= 0 {
		res.addf("quantity must be positive")
	} else if req.Quantity > limits.MaxQuantity {
		res.addf("quantity %d exceeds maximum %d", req.Quantity, limits.MaxQuantity)
	}

	if req.Price != nil {
		checkPriceBounds(&res, "price", *req.Price, limits)
	}
	if req.StopPrice != nil {
		checkPriceBounds(&res, "stop price", *req.StopPrice, limits)
	}

	// Notional bounds apply when a limit price is known.
	if req.Price != nil && req.Quantity > 0 {
		value := req.Price.Mul(decimal.NewFromInt(req.Quantity))
		if value.LessThan(limits.MinOrderValue) {
			res.addf("order value %s is below minimum %s", value, limits.MinOrderValue)
		} else if value.GreaterThan(limits.MaxOrderValue) {
			res.addf("order value %s exceeds maximum %s", value, limits.MaxOrderValue)
		}
	}

	if req.Type == domain.OrderTypeStopLimit {
		checkStopLimit(&res, req.Side, req.Price, req.StopPrice)
	}

	if req.TimeInForce == domain.TimeInForceGTD || req.GoodTillDate != nil {
		if req.GoodTillDate == nil {
			res.addf("good-till-date orders require an expiration")
		} else {
			checkGTD(&res, *req.GoodTillDate, now)
		}
	}

	if req.IcebergQuantity != nil {
		if *req.IcebergQuantity <= 0 {
			res.addf("iceberg quantity must be positive")
		} else if *req.IcebergQuantity >= req.Quantity {
			res.addf("iceberg quantity %d must be less than total quantity %d", *req.IcebergQuantity, req.Quantity)
		}
	}

	return res
}

// Modification checks an amendment against the rules that apply to the
// mutable fields, given the order being amended.
func Modification(order domain.Order, req domain.ModifyRequest, limits Limits, now time.Time) Result {
	var res Result

	if req.Empty() {
		res.addf("modification must change at least one field")
		return res
	}

	if req.NewQuantity != nil {
		switch {
		case *req.NewQuantity <= 0:
			res.addf("quantity must be positive")
		case *req.NewQuantity > limits.MaxQuantity:
			res.addf("quantity %d exceeds maximum %d", *req.NewQuantity, limits.MaxQuantity)
		case *req.NewQuantity < order.FilledQuantity:
			res.addf("quantity %d is below already-filled quantity %d", *req.NewQuantity, order.FilledQuantity)
		}
	}

	if req.NewPrice != nil {
		checkPriceBounds(&res, "price", *req.NewPrice, limits)
	}
	if req.NewStopPrice != nil {
		checkPriceBounds(&res, "stop price", *req.NewStopPrice, limits)
	}
	if req.NewGoodTillDate != nil {
		checkGTD(&res, *req.NewGoodTillDate, now)
	}

	return res
}

// Cancellation checks a cancel request.
func Cancellation(brokerOrderID, userID string) Result {
	var res Result
	if brokerOrderID == "" {
		res.addf("order id is required")
	}
	if userID == "" {
		res.addf("user id is required")
	}
	return res
}

func checkPriceBounds(res *Result, field string, p decimal.Decimal, limits Limits) {
	if p.LessThan(limits.MinPrice) {
		res.addf("%s %s is below minimum %s", field, p, limits.MinPrice)
	} else if p.GreaterThan(limits.MaxPrice) {
		res.addf("%s %s exceeds maximum %s", field, p, limits.MaxPrice)
	}
}

// checkStopLimit enforces the trigger geometry: a buy stop must trigger
// above its limit, a sell stop below it.
func checkStopLimit(res *Result, side domain.OrderSide, price, stop *decimal.Decimal) {
	if price == nil {
		res.addf("stop-limit orders require a limit price")
	}
	if stop == nil {
		res.addf("stop-limit orders require a stop price")
	}
	if price == nil || stop == nil {
		return
	}
	switch side {
	case domain.OrderSideBuy:
		if !stop.GreaterThan(*price) {
			res.addf("buy stop price %s must be above limit price %s", stop, price)
		}
	case domain.OrderSideSell:
		if !stop.LessThan(*price) {
			res.addf("sell stop price %s must be below limit price %s", stop, price)
		}
	}
}

func checkGTD(res *Result, expiry, now time.Time) {
	if expiry.Before(now.Add(minGTDLead)) {
		res.addf("good-till-date expiration must be at least %s in the future", minGTDLead)
	}
}
