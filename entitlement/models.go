// Package entitlement defines the link between a wallet, a sku and the
// object that consumes it.
package entitlement

import (
	"fmt"
	"time"

	"github.com/xraph/billing/id"
)

// Object tags the kind of entitled object.
type Object string

const (
	ObjectMailbox      Object = "mailbox"
	ObjectStorage      Object = "storage"
	ObjectDomain       Object = "domain"
	ObjectGroup        Object = "group"
	ObjectRoom         Object = "room"
	ObjectResource     Object = "resource"
	ObjectSharedFolder Object = "shared_folder"
	ObjectBeta         Object = "beta"
)

// Ref identifies the entitled object. The object itself lives outside the
// billing engine.
type Ref struct {
	Type Object `json:"type"`
	ID   string `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// Entitlement grants a wallet one unit of a sku for an object.
//
// CreatedAt anchors the billing periods. UpdatedAt is the charged-through
// marker: it only moves forward, in whole periods, when the entitlement is
// billed. It is never touched by unrelated edits.
type Entitlement struct {
	ID          id.EntitlementID `json:"id"`
	WalletID    id.WalletID      `json:"wallet_id"`
	SkuID       id.SkuID         `json:"sku_id"`
	Object      Ref              `json:"object"`
	Cost        *int64           `json:"cost,omitempty"`
	Fee         *int64           `json:"fee,omitempty"`
	Description string           `json:"description,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	DeletedAt   *time.Time       `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the entitlement is soft deleted.
func (e *Entitlement) IsDeleted() bool {
	return e.DeletedAt != nil
}

// EffectiveCost returns the cost override or the sku cost.
func (e *Entitlement) EffectiveCost(skuCost int64) int64 {
	if e.Cost != nil {
		return *e.Cost
	}
	return skuCost
}

// EffectiveFee returns the fee override or the sku fee.
func (e *Entitlement) EffectiveFee(skuFee int64) int64 {
	if e.Fee != nil {
		return *e.Fee
	}
	return skuFee
}
