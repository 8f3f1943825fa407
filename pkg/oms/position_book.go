package oms

import (
	"sort"
	"sync"
	"time"

	"github.com/joripage/venue-oms/pkg/oms/model"
	riskrule "github.com/joripage/venue-oms/pkg/oms/risk_rule"
	"github.com/shopspring/decimal"
)

type accountBook struct {
	mu        sync.Mutex
	positions map[string]model.Position
	inFlight  map[string]model.Reservation // order id -> reservation
	recent    []time.Time
}

// PositionBook holds positions and in-flight reservations per account. Risk
// evaluation and the reservation it produces happen under the same account
// lock, so concurrent orders never both claim the same capacity.
type PositionBook struct {
	accounts sync.Map // account -> *accountBook
}

func NewPositionBook() *PositionBook {
	return &PositionBook{}
}

func (b *PositionBook) account(account string) *accountBook {
	if v, ok := b.accounts.Load(account); ok {
		return v.(*accountBook)
	}
	v, _ := b.accounts.LoadOrStore(account, &accountBook{
		positions: make(map[string]model.Position),
		inFlight:  make(map[string]model.Reservation),
	})
	return v.(*accountBook)
}

func (a *accountBook) snapshot(account string) model.AccountSnapshot {
	snap := model.AccountSnapshot{
		Account:      account,
		Positions:    make(map[string]model.Position, len(a.positions)),
		InFlight:     make([]model.Reservation, 0, len(a.inFlight)),
		RecentOrders: append([]time.Time(nil), a.recent...),
	}
	for k, p := range a.positions {
		snap.Positions[k] = p
	}
	for _, r := range a.inFlight {
		snap.InFlight = append(snap.InFlight, r)
	}
	sort.Slice(snap.InFlight, func(i, j int) bool {
		return snap.InFlight[i].OrderID < snap.InFlight[j].OrderID
	})
	return snap
}

// EvaluateAndReserve runs evaluate on a snapshot of the account and, when the
// order is accepted, reserves its quantity and counts it in the rate window.
func (b *PositionBook) EvaluateAndReserve(order model.Order, now time.Time, window time.Duration, evaluate func(model.AccountSnapshot) riskrule.Decision) riskrule.Decision {
	a := b.account(order.Account)
	a.mu.Lock()
	defer a.mu.Unlock()

	a.trimRecent(now, window)
	decision := evaluate(a.snapshot(order.Account))
	if !decision.Accepted {
		return decision
	}

	price := order.Price
	if order.Type == model.OrderTypeMarket && order.Quantity.IsPositive() {
		price = decision.Notional.Div(order.Quantity)
	}
	a.inFlight[order.ID] = model.Reservation{
		OrderID:    order.ID,
		Instrument: order.Instrument,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      price,
	}
	a.recent = append(a.recent, now)
	return decision
}

func (a *accountBook) trimRecent(now time.Time, window time.Duration) {
	if window <= 0 {
		a.recent = a.recent[:0]
		return
	}
	cutoff := now.Add(-window)
	i := 0
	for i < len(a.recent) && !a.recent[i].After(cutoff) {
		i++
	}
	a.recent = append(a.recent[:0], a.recent[i:]...)
}

// ApplyFill moves filled quantity from the order's reservation into the
// position. The position price is the volume weighted average of the open
// side.
func (b *PositionBook) ApplyFill(order model.Order, qty, price decimal.Decimal) model.Position {
	a := b.account(order.Account)
	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.inFlight[order.ID]; ok {
		r.Quantity = r.Quantity.Sub(qty)
		if r.Quantity.IsPositive() {
			a.inFlight[order.ID] = r
		} else {
			delete(a.inFlight, order.ID)
		}
	}

	p, ok := a.positions[order.Instrument]
	if !ok {
		p = model.Position{Account: order.Account, Instrument: order.Instrument}
	}
	signed := qty
	if order.Side == model.OrderSideSell {
		signed = qty.Neg()
	}
	net := p.NetQuantity.Add(signed)

	switch {
	case p.NetQuantity.IsZero() || p.NetQuantity.Sign() == signed.Sign():
		open := p.NetQuantity.Abs()
		p.AvgPrice = open.Mul(p.AvgPrice).Add(qty.Mul(price)).Div(open.Add(qty))
	case net.IsZero():
		p.AvgPrice = decimal.Zero
	case net.Sign() != p.NetQuantity.Sign():
		// flipped through flat, the remainder opened at this fill's price
		p.AvgPrice = price
	}
	p.NetQuantity = net
	a.positions[order.Instrument] = p
	return p
}

// Release drops whatever is left of the order's reservation.
func (b *PositionBook) Release(account, orderID string) {
	a := b.account(account)
	a.mu.Lock()
	delete(a.inFlight, orderID)
	a.mu.Unlock()
}

func (b *PositionBook) Snapshot(account string) model.AccountSnapshot {
	a := b.account(account)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot(account)
}

// Positions lists the account's positions ordered by instrument.
func (b *PositionBook) Positions(account string) []model.Position {
	snap := b.Snapshot(account)
	out := make([]model.Position, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}
