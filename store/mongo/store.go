// Package mongo is a MongoDB store built on Grove and the official driver.
//
// Units of work run in a multi-document transaction, which requires a
// replica set. Locking reads bump a version field on the wallet or
// payment document so that concurrent units of work touching the same
// document conflict and are retried by the driver.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

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

// Collection name constants.
const (
	colSkus         = "billing_skus"
	colPlans        = "billing_plans"
	colDiscounts    = "billing_discounts"
	colVatRates     = "billing_vat_rates"
	colWallets      = "billing_wallets"
	colEntitlements = "billing_entitlements"
	colTransactions = "billing_transactions"
	colPayments     = "billing_payments"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all billing collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("billing/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTx implements store.Store. fn may run more than once when the
// transaction hits a transient conflict.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	client := s.mdb.Collection(colWallets).Database().Client()
	sess, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("billing/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sctx context.Context) (any, error) {
		return nil, fn(sctx, &tx{s: s})
	})
	return err
}

// ==================== Sku Store ====================

func (s *Store) CreateSku(ctx context.Context, sk *sku.Sku) error {
	return s.insert(ctx, "create sku", toSkuModel(sk))
}

func (s *Store) GetSku(ctx context.Context, skuID id.SkuID) (*sku.Sku, error) {
	return findOne(ctx, s, bson.M{"_id": skuID.String()}, fromSkuModel, billing.ErrSkuNotFound)
}

func (s *Store) GetSkuByTitle(ctx context.Context, tenantID, title string) (*sku.Sku, error) {
	return findOne(ctx, s, bson.M{"tenant_id": tenantID, "title": title}, fromSkuModel, billing.ErrSkuNotFound)
}

func (s *Store) ListSkus(ctx context.Context, tenantID string, opts sku.ListOpts) ([]*sku.Sku, error) {
	filter := bson.M{"tenant_id": tenantID}
	if opts.Active {
		filter["active"] = true
	}
	return findMany(ctx, s, filter, bson.D{{Key: "title", Value: 1}}, opts.Offset, opts.Limit, fromSkuModel)
}

func (s *Store) UpdateSku(ctx context.Context, sk *sku.Sku) error {
	return s.replace(ctx, "update sku", toSkuModel(sk), sk.ID.String(), billing.ErrSkuNotFound)
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	return s.insert(ctx, "create plan", toPlanModel(p))
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return findOne(ctx, s, bson.M{"_id": planID.String()}, fromPlanModel, billing.ErrPlanNotFound)
}

func (s *Store) ListPlans(ctx context.Context, tenantID string, opts plan.ListOpts) ([]*plan.Plan, error) {
	filter := bson.M{"tenant_id": tenantID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	return findMany(ctx, s, filter, bson.D{{Key: "title", Value: 1}}, opts.Offset, opts.Limit, fromPlanModel)
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	return s.replace(ctx, "update plan", toPlanModel(p), p.ID.String(), billing.ErrPlanNotFound)
}

// ==================== Discount Store ====================

func (s *Store) CreateDiscount(ctx context.Context, d *discount.Discount) error {
	return s.insert(ctx, "create discount", toDiscountModel(d))
}

func (s *Store) GetDiscount(ctx context.Context, discountID id.DiscountID) (*discount.Discount, error) {
	return findOne(ctx, s, bson.M{"_id": discountID.String()}, fromDiscountModel, billing.ErrDiscountNotFound)
}

func (s *Store) GetDiscountByCode(ctx context.Context, tenantID, code string) (*discount.Discount, error) {
	return findOne(ctx, s, bson.M{"tenant_id": tenantID, "code_lower": lower(code)}, fromDiscountModel, billing.ErrDiscountNotFound)
}

func (s *Store) ListDiscounts(ctx context.Context, tenantID string, opts discount.ListOpts) ([]*discount.Discount, error) {
	filter := bson.M{"tenant_id": tenantID}
	if opts.Active {
		filter["active"] = true
	}
	sort := bson.D{{Key: "percent", Value: 1}, {Key: "_id", Value: 1}}
	return findMany(ctx, s, filter, sort, opts.Offset, opts.Limit, fromDiscountModel)
}

func (s *Store) UpdateDiscount(ctx context.Context, d *discount.Discount) error {
	return s.replace(ctx, "update discount", toDiscountModel(d), d.ID.String(), billing.ErrDiscountNotFound)
}

// ==================== VAT Store ====================

func (s *Store) CreateVatRate(ctx context.Context, r *vat.Rate) error {
	return s.insert(ctx, "create vat rate", toVatRateModel(r))
}

func (s *Store) EffectiveVatRate(ctx context.Context, country string, at time.Time) (*vat.Rate, error) {
	var m vatRateModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"country": upper(country), "start": bson.M{"$lte": at}}).
		Sort(bson.D{{Key: "start", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrVatRateNotFound
		}
		return nil, fmt.Errorf("billing/mongo: effective vat rate: %w", err)
	}
	return fromVatRateModel(&m)
}

func (s *Store) ListVatRates(ctx context.Context, country string) ([]*vat.Rate, error) {
	filter := bson.M{}
	if country != "" {
		filter["country"] = upper(country)
	}
	return findMany(ctx, s, filter, bson.D{{Key: "start", Value: -1}}, 0, 0, fromVatRateModel)
}

// ==================== Wallet Store ====================

func (s *Store) CreateWallet(ctx context.Context, w *wallet.Wallet) error {
	return s.insert(ctx, "create wallet", toWalletModel(w))
}

func (s *Store) GetWallet(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	return findOne(ctx, s, bson.M{"_id": walletID.String()}, fromWalletModel, billing.ErrWalletNotFound)
}

func (s *Store) ListWalletsByOwner(ctx context.Context, ownerID string) ([]*wallet.Wallet, error) {
	return findMany(ctx, s, bson.M{"owner_id": ownerID}, walletOrder, 0, 0, fromWalletModel)
}

func (s *Store) ListWallets(ctx context.Context, opts wallet.ListOpts) ([]*wallet.Wallet, error) {
	filter := bson.M{}
	if opts.TenantID != "" {
		filter["tenant_id"] = opts.TenantID
	}
	if opts.Negative {
		filter["balance"] = bson.M{"$lt": 0}
	}
	return findMany(ctx, s, filter, walletOrder, opts.Offset, opts.Limit, fromWalletModel)
}

func (s *Store) DeleteWallet(ctx context.Context, walletID id.WalletID) error {
	res, err := s.mdb.NewDelete((*walletModel)(nil)).
		Filter(bson.M{"_id": walletID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: delete wallet: %w", err)
	}
	if res.DeletedCount() == 0 {
		return billing.ErrWalletNotFound
	}
	return nil
}

var walletOrder = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

// ==================== Entitlement Store ====================

func (s *Store) GetEntitlement(ctx context.Context, entID id.EntitlementID) (*entitlement.Entitlement, error) {
	return findOne(ctx, s, bson.M{"_id": entID.String()}, fromEntitlementModel, billing.ErrEntitlementNotFound)
}

func (s *Store) ListEntitlements(ctx context.Context, walletID id.WalletID, opts entitlement.ListOpts) ([]*entitlement.Entitlement, error) {
	filter := bson.M{"wallet_id": walletID.String()}
	if !opts.SkuID.IsNil() {
		filter["sku_id"] = opts.SkuID.String()
	}
	if !opts.WithDeleted {
		filter["deleted_at"] = nil
	}
	return findMany(ctx, s, filter, entitlementOrder, 0, 0, fromEntitlementModel)
}

func (s *Store) ListEntitlementsByObject(ctx context.Context, ref entitlement.Ref) ([]*entitlement.Entitlement, error) {
	filter := bson.M{"object_type": string(ref.Type), "object_id": ref.ID, "deleted_at": nil}
	return findMany(ctx, s, filter, entitlementOrder, 0, 0, fromEntitlementModel)
}

// PurgeEntitlements removes entitlements deleted before the cutoff whose
// last period has been settled.
func (s *Store) PurgeEntitlements(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.mdb.Collection(colEntitlements).DeleteMany(ctx, bson.M{
		"deleted_at": bson.M{"$ne": nil, "$lt": before},
		"$expr":      bson.M{"$gte": bson.A{"$updated_at", "$deleted_at"}},
	})
	if err != nil {
		return 0, fmt.Errorf("billing/mongo: purge entitlements: %w", err)
	}
	return res.DeletedCount, nil
}

var entitlementOrder = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

// ==================== Transaction Store ====================

func (s *Store) ListTransactions(ctx context.Context, walletID id.WalletID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	filter := bson.M{"wallet_id": walletID.String(), "parent_id": ""}
	if len(opts.Types) > 0 {
		types := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = string(t)
		}
		filter["type"] = bson.M{"$in": types}
	}
	// TypeIDs are time-ordered, so _id breaks created_at ties in insertion order.
	sort := bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}
	return findMany(ctx, s, filter, sort, opts.Offset, opts.Limit, fromTransactionModel)
}

func (s *Store) TransactionChildren(ctx context.Context, parentID id.TransactionID) ([]*transaction.Transaction, error) {
	sort := bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}
	return findMany(ctx, s, bson.M{"parent_id": parentID.String()}, sort, 0, 0, fromTransactionModel)
}

func (s *Store) SumBalance(ctx context.Context, walletID id.WalletID) (int64, error) {
	pipeline := bson.A{
		bson.M{"$match": bson.M{
			"wallet_id":   walletID.String(),
			"object_type": string(transaction.ObjectWallet),
		}},
		bson.M{"$group": bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$amount"},
		}},
	}

	cursor, err := s.mdb.Collection(colTransactions).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("billing/mongo: sum balance: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("billing/mongo: sum balance decode: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

// ==================== Payment Store ====================

func (s *Store) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return findOne(ctx, s, bson.M{"_id": paymentID}, fromPaymentModel, billing.ErrPaymentNotFound)
}

func (s *Store) ListPayments(ctx context.Context, walletID id.WalletID, opts payment.ListOpts) ([]*payment.Payment, error) {
	filter := bson.M{"wallet_id": walletID.String()}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	return findMany(ctx, s, filter, paymentOrder, opts.Offset, opts.Limit, fromPaymentModel)
}

func (s *Store) PaymentChildren(ctx context.Context, parentID string) ([]*payment.Payment, error) {
	return findMany(ctx, s, bson.M{"parent_id": parentID}, paymentOrder, 0, 0, fromPaymentModel)
}

var paymentOrder = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

// ==================== Helpers ====================

func findOne[M, T any](ctx context.Context, s *Store, filter bson.M, conv func(*M) (*T, error), notFound error) (*T, error) {
	var m M
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, notFound
		}
		return nil, fmt.Errorf("billing/mongo: find: %w", err)
	}
	return conv(&m)
}

func findMany[M, T any](ctx context.Context, s *Store, filter bson.M, sort bson.D, offset, limit int, conv func(*M) (*T, error)) ([]*T, error) {
	var models []M
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(sort)
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if offset > 0 {
		q = q.Skip(int64(offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("billing/mongo: find: %w", err)
	}

	result := make([]*T, len(models))
	for i := range models {
		v, err := conv(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = v
	}
	return result, nil
}

func (s *Store) insert(ctx context.Context, op string, model any) error {
	if _, err := s.mdb.NewInsert(model).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("billing/mongo: %s: %w", op, err)
	}
	return nil
}

func (s *Store) replace(ctx context.Context, op string, model any, docID string, notFound error) error {
	res, err := s.mdb.NewUpdate(model).
		Filter(bson.M{"_id": docID}).
		Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("billing/mongo: %s: %w", op, err)
	}
	if res.MatchedCount() == 0 {
		return notFound
	}
	return nil
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func lower(s string) string { return strings.ToLower(s) }
func upper(s string) string { return strings.ToUpper(s) }

// migrationIndexes returns the index definitions for all billing collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colSkus: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "title", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colPlans: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "status", Value: 1}}},
		},
		colDiscounts: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "code_lower", Value: 1}}},
		},
		colVatRates: {
			{Keys: bson.D{{Key: "country", Value: 1}, {Key: "start", Value: -1}}},
		},
		colWallets: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "balance", Value: 1}}},
		},
		colEntitlements: {
			{Keys: bson.D{{Key: "wallet_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "object_type", Value: 1}, {Key: "object_id", Value: 1}}},
			{Keys: bson.D{{Key: "deleted_at", Value: 1}}},
		},
		colTransactions: {
			{Keys: bson.D{{Key: "wallet_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "parent_id", Value: 1}}},
		},
		colPayments: {
			{Keys: bson.D{{Key: "wallet_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "parent_id", Value: 1}}},
		},
	}
}
