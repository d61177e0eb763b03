// Package accounting computes what a wallet owes for its entitlements.
//
// It is pure: callers load entitlements, skus, the discount and the plan
// trial, and persist the returned charges. All amounts are integer cents.
package accounting

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/billing/discount"
	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/sku"
	"github.com/xraph/billing/types"
)

// ErrNegativeFreeUnits is returned when a sku declares a negative number of
// free units.
var ErrNegativeFreeUnits = errors.New("accounting: negative free units")

// ErrUnknownSku is returned when an entitlement references a sku that was
// not supplied.
var ErrUnknownSku = errors.New("accounting: unknown sku")

// Trial exempts the plan skus from charges until End.
type Trial struct {
	End  time.Time
	Skus map[string]bool
}

func (t *Trial) covers(skuID string) bool {
	return t != nil && !t.End.IsZero() && t.Skus[skuID]
}

// Input is everything needed to price one wallet.
type Input struct {
	// Entitlements of the wallet, including soft-deleted ones.
	Entitlements []*entitlement.Entitlement
	// Skus keyed by sku id string.
	Skus map[string]*sku.Sku
	// Discount of the wallet, nil for none.
	Discount *discount.Discount
	// Restricted wallets are not charged. Fees are still owed by the tenant.
	Restricted bool
	Trial      *Trial
	Now        time.Time
}

// Line is the pricing of one entitlement per period, before discount.
type Line struct {
	Entitlement *entitlement.Entitlement
	Sku         *sku.Sku
	Cost        int64
	Fee         int64
	Free        bool
	Months      int
}

// Charge is the result of billing one entitlement.
type Charge struct {
	Entitlement *entitlement.Entitlement
	Sku         *sku.Sku
	Periods     int
	// Cost is charged to the wallet: the discounted period cost times
	// Periods.
	Cost int64
	// Fee is the provider fee for the charged periods.
	Fee int64
	// Through is the new charged-through marker of the entitlement.
	Through time.Time
}

// Moved reports whether the charged-through marker changes.
func (c Charge) Moved() bool {
	return !c.Through.Equal(c.Entitlement.UpdatedAt)
}

// Result is the outcome of Compute.
type Result struct {
	Charges []Charge
	// Total is the amount debited from the wallet.
	Total int64
	// Fees is the sum of the fees of the charged periods.
	Fees int64
}

// Profit is the reseller margin of the charge, possibly negative.
func (r Result) Profit() int64 {
	return r.Total - r.Fees
}

// Lines prices every billable entitlement of the input: live entitlements
// and deleted ones whose marker has not reached their deletion. The first
// Units entitlements of a sku, by creation order then id, are free.
func Lines(in Input) ([]Line, error) {
	billable := make([]*entitlement.Entitlement, 0, len(in.Entitlements))
	for _, e := range in.Entitlements {
		if e.IsDeleted() && !e.UpdatedAt.Before(*e.DeletedAt) {
			continue
		}
		billable = append(billable, e)
	}

	sort.SliceStable(billable, func(i, j int) bool {
		a, b := billable[i], billable[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	seen := make(map[string]int)
	lines := make([]Line, 0, len(billable))
	for _, e := range billable {
		s, ok := in.Skus[e.SkuID.String()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSku, e.SkuID)
		}
		if s.Units < 0 {
			return nil, fmt.Errorf("%w: sku %s has %d", ErrNegativeFreeUnits, s.ID, s.Units)
		}

		rank := seen[s.ID.String()]
		seen[s.ID.String()] = rank + 1

		line := Line{
			Entitlement: e,
			Sku:         s,
			Months:      s.Period.Months(),
		}
		if rank < s.Units {
			line.Free = true
		} else {
			line.Cost = e.EffectiveCost(s.Cost)
			line.Fee = e.EffectiveFee(s.Fee)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Compute returns the charges due at in.Now. Only whole periods elapsed
// since each entitlement's marker are charged; deleted entitlements are
// charged up to their deletion and then settled.
func Compute(in Input) (Result, error) {
	lines, err := Lines(in)
	if err != nil {
		return Result{}, err
	}

	rate := in.Discount.Rate(in.Now)

	var res Result
	for _, l := range lines {
		c := charge(l, rate, in)
		if c.Periods == 0 && !c.Moved() {
			continue
		}
		res.Charges = append(res.Charges, c)
		res.Total += c.Cost
		res.Fees += c.Fee
	}
	return res, nil
}

func charge(l Line, rate decimal.Decimal, in Input) Charge {
	e := l.Entitlement
	c := Charge{Entitlement: e, Sku: l.Sku, Through: e.UpdatedAt}

	end := in.Now
	if e.IsDeleted() && e.DeletedAt.Before(end) {
		end = *e.DeletedAt
	}

	start := e.UpdatedAt
	if in.Trial.covers(l.Sku.ID.String()) && start.Before(in.Trial.End) {
		if in.Trial.End.After(end) {
			c.Through = in.Trial.End
			return settle(c, e)
		}
		start = in.Trial.End
		c.Through = start
	}

	months := l.Months
	if months <= 0 {
		months = 1
	}

	c.Periods = ElapsedMonths(start, end) / months
	if c.Periods > 0 {
		c.Through = AddMonths(start, c.Periods*months)

		cost := types.RoundRate(l.Cost, rate)
		if in.Restricted {
			cost = 0
		}
		c.Cost = cost * int64(c.Periods)
		c.Fee = l.Fee * int64(c.Periods)
	}
	return settle(c, e)
}

// settle moves the marker of a deleted entitlement to its deletion once the
// last whole period has been charged, so it is never charged again.
func settle(c Charge, e *entitlement.Entitlement) Charge {
	if e.IsDeleted() && c.Through.Before(*e.DeletedAt) {
		c.Through = *e.DeletedAt
	}
	return c
}

// LastsUntil projects the date the balance runs out with the current live
// entitlements. It returns nil when the balance is already negative or
// nothing is charged. The result is never before now.
func LastsUntil(balance int64, lines []Line, rate decimal.Decimal, now time.Time) *time.Time {
	if balance < 0 {
		return nil
	}

	type slot struct {
		cost   int64
		months int
		next   time.Time
	}

	var slots []*slot
	for _, l := range lines {
		if l.Entitlement.IsDeleted() {
			continue
		}
		cost := types.RoundRate(l.Cost, rate)
		if cost <= 0 {
			continue
		}
		months := max(l.Months, 1)
		slots = append(slots, &slot{cost: cost, months: months, next: l.Entitlement.UpdatedAt})
	}
	if len(slots) == 0 {
		return nil
	}

	const horizon = 12 * 25
	for range horizon {
		// Next due entitlement first, so the balance drains in date order.
		sort.SliceStable(slots, func(i, j int) bool {
			return AddMonths(slots[i].next, slots[i].months).Before(AddMonths(slots[j].next, slots[j].months))
		})
		s := slots[0]
		s.next = AddMonths(s.next, s.months)
		balance -= s.cost
		if balance < 0 {
			until := s.next
			if until.Before(now) {
				until = now
			}
			return &until
		}
	}
	return nil
}
