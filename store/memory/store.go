// Package memory is an in-process Store for tests and single-node
// development. Values are copied in and out, so callers never share state
// with the store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/billing"
	"github.com/xraph/billing/discount"
	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/sku"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/vat"
	"github.com/xraph/billing/wallet"
)

var _ store.Store = (*Store)(nil)

// Store keeps every entity in maps guarded by one mutex. A unit of work
// holds the write lock for its whole duration and restores a snapshot of
// the maps when it fails.
type Store struct {
	mu   sync.RWMutex
	data *data
}

type data struct {
	skus         map[string]*sku.Sku
	plans        map[string]*plan.Plan
	discounts    map[string]*discount.Discount
	vatRates     map[string]*vat.Rate
	wallets      map[string]*wallet.Wallet
	entitlements map[string]*entitlement.Entitlement
	transactions []*transaction.Transaction
	payments     map[string]*payment.Payment
}

func New() *Store {
	return &Store{
		data: &data{
			skus:         make(map[string]*sku.Sku),
			plans:        make(map[string]*plan.Plan),
			discounts:    make(map[string]*discount.Discount),
			vatRates:     make(map[string]*vat.Rate),
			wallets:      make(map[string]*wallet.Wallet),
			entitlements: make(map[string]*entitlement.Entitlement),
			payments:     make(map[string]*payment.Payment),
		},
	}
}

// snapshot copies the maps. Stored values are never mutated in place, so
// sharing them between snapshot and live data is safe.
func (d *data) snapshot() *data {
	return &data{
		skus:         copyMap(d.skus),
		plans:        copyMap(d.plans),
		discounts:    copyMap(d.discounts),
		vatRates:     copyMap(d.vatRates),
		wallets:      copyMap(d.wallets),
		entitlements: copyMap(d.entitlements),
		transactions: append([]*transaction.Transaction(nil), d.transactions...),
		payments:     copyMap(d.payments),
	}
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ──────────────────────────────────────────────────
// Sku methods
// ──────────────────────────────────────────────────

func (s *Store) CreateSku(_ context.Context, sk *sku.Sku) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.skus[sk.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}
	for _, other := range s.data.skus {
		if other.TenantID == sk.TenantID && other.Title == sk.Title {
			return billing.ErrAlreadyExists
		}
	}
	s.data.skus[sk.ID.String()] = cloneSku(sk)
	return nil
}

func (s *Store) GetSku(_ context.Context, skuID id.SkuID) (*sku.Sku, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getSku(skuID)
}

func (d *data) getSku(skuID id.SkuID) (*sku.Sku, error) {
	if sk, ok := d.skus[skuID.String()]; ok {
		return cloneSku(sk), nil
	}
	return nil, billing.ErrSkuNotFound
}

func (s *Store) GetSkuByTitle(_ context.Context, tenantID, title string) (*sku.Sku, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sk := range s.data.skus {
		if sk.TenantID == tenantID && sk.Title == title {
			return cloneSku(sk), nil
		}
	}
	return nil, billing.ErrSkuNotFound
}

func (s *Store) ListSkus(_ context.Context, tenantID string, opts sku.ListOpts) ([]*sku.Sku, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*sku.Sku, 0)
	for _, sk := range s.data.skus {
		if sk.TenantID != tenantID || (opts.Active && !sk.Active) {
			continue
		}
		result = append(result, cloneSku(sk))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Title < result[j].Title })
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateSku(_ context.Context, sk *sku.Sku) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.skus[sk.ID.String()]; !exists {
		return billing.ErrSkuNotFound
	}
	s.data.skus[sk.ID.String()] = cloneSku(sk)
	return nil
}

// ──────────────────────────────────────────────────
// Plan methods
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.plans[p.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}
	s.data.plans[p.ID.String()] = clonePlan(p)
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getPlan(planID)
}

func (d *data) getPlan(planID id.PlanID) (*plan.Plan, error) {
	if p, ok := d.plans[planID.String()]; ok {
		return clonePlan(p), nil
	}
	return nil, billing.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, tenantID string, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0)
	for _, p := range s.data.plans {
		if p.TenantID != tenantID || (opts.Status != "" && p.Status != opts.Status) {
			continue
		}
		result = append(result, clonePlan(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Title < result[j].Title })
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.plans[p.ID.String()]; !exists {
		return billing.ErrPlanNotFound
	}
	s.data.plans[p.ID.String()] = clonePlan(p)
	return nil
}

// ──────────────────────────────────────────────────
// Discount methods
// ──────────────────────────────────────────────────

func (s *Store) CreateDiscount(_ context.Context, d *discount.Discount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.discounts[d.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}
	s.data.discounts[d.ID.String()] = cloneDiscount(d)
	return nil
}

func (s *Store) GetDiscount(_ context.Context, discountID id.DiscountID) (*discount.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getDiscount(discountID)
}

func (d *data) getDiscount(discountID id.DiscountID) (*discount.Discount, error) {
	if dc, ok := d.discounts[discountID.String()]; ok {
		return cloneDiscount(dc), nil
	}
	return nil, billing.ErrDiscountNotFound
}

func (s *Store) GetDiscountByCode(_ context.Context, tenantID, code string) (*discount.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.data.discounts {
		if d.TenantID == tenantID && strings.EqualFold(d.Code, code) {
			return cloneDiscount(d), nil
		}
	}
	return nil, billing.ErrDiscountNotFound
}

func (s *Store) ListDiscounts(_ context.Context, tenantID string, opts discount.ListOpts) ([]*discount.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*discount.Discount, 0)
	for _, d := range s.data.discounts {
		if d.TenantID != tenantID || (opts.Active && !d.Active) {
			continue
		}
		result = append(result, cloneDiscount(d))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Percent < result[j].Percent })
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateDiscount(_ context.Context, d *discount.Discount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.discounts[d.ID.String()]; !exists {
		return billing.ErrDiscountNotFound
	}
	s.data.discounts[d.ID.String()] = cloneDiscount(d)
	return nil
}

// ──────────────────────────────────────────────────
// VAT methods
// ──────────────────────────────────────────────────

func (s *Store) CreateVatRate(_ context.Context, r *vat.Rate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.vatRates[r.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}
	cp := *r
	cp.Country = strings.ToUpper(cp.Country)
	s.data.vatRates[r.ID.String()] = &cp
	return nil
}

func (s *Store) EffectiveVatRate(_ context.Context, country string, at time.Time) (*vat.Rate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rates := make([]*vat.Rate, 0, len(s.data.vatRates))
	for _, r := range s.data.vatRates {
		rates = append(rates, r)
	}
	r := vat.Select(rates, strings.ToUpper(country), at)
	if r == nil {
		return nil, billing.ErrVatRateNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListVatRates(_ context.Context, country string) ([]*vat.Rate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*vat.Rate, 0)
	for _, r := range s.data.vatRates {
		if country != "" && r.Country != strings.ToUpper(country) {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Start.After(result[j].Start) })
	return result, nil
}

// ──────────────────────────────────────────────────
// Wallet methods
// ──────────────────────────────────────────────────

func (s *Store) CreateWallet(_ context.Context, w *wallet.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.wallets[w.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}
	s.data.wallets[w.ID.String()] = cloneWallet(w)
	return nil
}

func (s *Store) GetWallet(_ context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getWallet(walletID)
}

func (d *data) getWallet(walletID id.WalletID) (*wallet.Wallet, error) {
	if w, ok := d.wallets[walletID.String()]; ok {
		return cloneWallet(w), nil
	}
	return nil, billing.ErrWalletNotFound
}

func (s *Store) ListWalletsByOwner(_ context.Context, ownerID string) ([]*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*wallet.Wallet, 0)
	for _, w := range s.data.wallets {
		if w.OwnerID == ownerID {
			result = append(result, cloneWallet(w))
		}
	}
	sortWallets(result)
	return result, nil
}

func (s *Store) ListWallets(_ context.Context, opts wallet.ListOpts) ([]*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*wallet.Wallet, 0)
	for _, w := range s.data.wallets {
		if opts.TenantID != "" && w.TenantID != opts.TenantID {
			continue
		}
		if opts.Negative && w.Balance >= 0 {
			continue
		}
		result = append(result, cloneWallet(w))
	}
	sortWallets(result)
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) DeleteWallet(_ context.Context, walletID id.WalletID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.wallets[walletID.String()]; !exists {
		return billing.ErrWalletNotFound
	}
	delete(s.data.wallets, walletID.String())
	return nil
}

func sortWallets(ws []*wallet.Wallet) {
	sort.Slice(ws, func(i, j int) bool {
		if !ws[i].CreatedAt.Equal(ws[j].CreatedAt) {
			return ws[i].CreatedAt.Before(ws[j].CreatedAt)
		}
		return ws[i].ID.String() < ws[j].ID.String()
	})
}

// ──────────────────────────────────────────────────
// Entitlement methods
// ──────────────────────────────────────────────────

func (s *Store) GetEntitlement(_ context.Context, entID id.EntitlementID) (*entitlement.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.data.entitlements[entID.String()]; ok {
		return cloneEntitlement(e), nil
	}
	return nil, billing.ErrEntitlementNotFound
}

func (s *Store) ListEntitlements(_ context.Context, walletID id.WalletID, opts entitlement.ListOpts) ([]*entitlement.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listEntitlements(walletID, opts), nil
}

func (d *data) listEntitlements(walletID id.WalletID, opts entitlement.ListOpts) []*entitlement.Entitlement {
	result := make([]*entitlement.Entitlement, 0)
	for _, e := range d.entitlements {
		if e.WalletID.String() != walletID.String() {
			continue
		}
		if !opts.SkuID.IsNil() && e.SkuID.String() != opts.SkuID.String() {
			continue
		}
		if e.IsDeleted() && !opts.WithDeleted {
			continue
		}
		result = append(result, cloneEntitlement(e))
	}
	sortEntitlements(result)
	return result
}

func (d *data) listEntitlementsByObject(ref entitlement.Ref) []*entitlement.Entitlement {
	result := make([]*entitlement.Entitlement, 0)
	for _, e := range d.entitlements {
		if e.Object == ref && !e.IsDeleted() {
			result = append(result, cloneEntitlement(e))
		}
	}
	sortEntitlements(result)
	return result
}

func (s *Store) ListEntitlementsByObject(_ context.Context, ref entitlement.Ref) ([]*entitlement.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listEntitlementsByObject(ref), nil
}

func (s *Store) PurgeEntitlements(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for k, e := range s.data.entitlements {
		if e.IsDeleted() && e.DeletedAt.Before(before) && !e.UpdatedAt.Before(*e.DeletedAt) {
			delete(s.data.entitlements, k)
			purged++
		}
	}
	return purged, nil
}

func sortEntitlements(es []*entitlement.Entitlement) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].CreatedAt.Before(es[j].CreatedAt)
		}
		return es[i].ID.String() < es[j].ID.String()
	})
}

// ──────────────────────────────────────────────────
// Transaction methods
// ──────────────────────────────────────────────────

func (s *Store) ListTransactions(_ context.Context, walletID id.WalletID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*transaction.Transaction, 0)
	// Newest first: walk the append-only log backwards.
	for i := len(s.data.transactions) - 1; i >= 0; i-- {
		t := s.data.transactions[i]
		if t.WalletID.String() != walletID.String() || !t.ParentID.IsNil() {
			continue
		}
		if len(opts.Types) > 0 && !containsType(opts.Types, t.Type) {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) TransactionChildren(_ context.Context, parentID id.TransactionID) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*transaction.Transaction, 0)
	for _, t := range s.data.transactions {
		if t.ParentID.String() == parentID.String() {
			cp := *t
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *Store) SumBalance(_ context.Context, walletID id.WalletID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, t := range s.data.transactions {
		if t.WalletID.String() == walletID.String() && t.AffectsBalance() {
			sum += t.Amount
		}
	}
	return sum, nil
}

func containsType(types []transaction.Type, t transaction.Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────
// Payment methods
// ──────────────────────────────────────────────────

func (s *Store) GetPayment(_ context.Context, paymentID string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getPayment(paymentID)
}

func (d *data) getPayment(paymentID string) (*payment.Payment, error) {
	if p, ok := d.payments[paymentID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, billing.ErrPaymentNotFound
}

func (s *Store) ListPayments(_ context.Context, walletID id.WalletID, opts payment.ListOpts) ([]*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Payment, 0)
	for _, p := range s.data.payments {
		if p.WalletID.String() != walletID.String() {
			continue
		}
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		if opts.Type != "" && p.Type != opts.Type {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	sortPayments(result)
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) PaymentChildren(_ context.Context, parentID string) ([]*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Payment, 0)
	for _, p := range s.data.payments {
		if p.ParentID == parentID {
			cp := *p
			result = append(result, &cp)
		}
	}
	sortPayments(result)
	return result, nil
}

func sortPayments(ps []*payment.Payment) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.After(ps[j].CreatedAt)
		}
		return ps[i].ID > ps[j].ID
	})
}

// ──────────────────────────────────────────────────
// Core methods
// ──────────────────────────────────────────────────

// RunInTx implements store.Store. Units of work are fully serialized.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.data.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.data = snap
			panic(r)
		}
		if err != nil {
			s.data = snap
		}
	}()

	return fn(ctx, &tx{s: s})
}

func (s *Store) Migrate(_ context.Context) error { return nil }
func (s *Store) Ping(_ context.Context) error    { return nil }
func (s *Store) Close() error                    { return nil }

func paginate[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
