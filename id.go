package billing

import "github.com/xraph/billing/id"

// ID is the primary identifier type for all billing entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
