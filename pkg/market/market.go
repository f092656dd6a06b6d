// Package market implements the marketplace: user-created items with a
// moderated lifecycle, and coin transactions with an atomic balance
// invariant.
package market

import "strings"

// ItemType is the kind of content an item carries.
type ItemType string

const (
	TypeText      ItemType = "Text"
	TypeUserTheme ItemType = "UserTheme"
)

// ItemStatus is the moderation state of an item.
type ItemStatus string

const (
	StatusPending  ItemStatus = "Pending"
	StatusApproved ItemStatus = "Approved"
	StatusRejected ItemStatus = "Rejected"
	StatusFeatured ItemStatus = "Featured"
)

// ParseItemType normalizes a stored type.
func ParseItemType(s string) ItemType {
	if ItemType(strings.Trim(s, `"`)) == TypeUserTheme {
		return TypeUserTheme
	}
	return TypeText
}

// ParseItemStatus normalizes a stored status.
func ParseItemStatus(s string) ItemStatus {
	switch ItemStatus(strings.Trim(s, `"`)) {
	case StatusApproved:
		return StatusApproved
	case StatusRejected:
		return StatusRejected
	case StatusFeatured:
		return StatusFeatured
	default:
		return StatusPending
	}
}

// Item is a marketplace item. Cost semantics: 0 is free, -1 is
// off-sale, positive is the price in coins.
type Item struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Cost        int32      `json:"cost"`
	Content     string     `json:"content"`
	Type        ItemType   `json:"type"`
	Status      ItemStatus `json:"status"`
	Timestamp   uint64     `json:"timestamp"`
	Creator     string     `json:"creator"`
}

// SystemItemID is the reserved item used for administrative charges
// that don't correspond to a real product.
const SystemItemID = "0"

// SystemItem returns the synthetic item "0"; its -1 cost marks it
// off-sale.
func SystemItem() Item {
	return Item{
		ID:      SystemItemID,
		Name:    "System cost",
		Cost:    -1,
		Type:    TypeText,
		Status:  StatusApproved,
		Creator: "0",
	}
}

// ItemCreateParams is the input for CreateItem.
type ItemCreateParams struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	Content     string   `json:"content" validate:"required"`
	Cost        int32    `json:"cost" validate:"gte=-1"`
	Type        ItemType `json:"type" validate:"required,oneof=Text UserTheme"`
}

// ItemEditParams is the input for UpdateItem.
type ItemEditParams struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Cost        int32  `json:"cost" validate:"gte=-1"`
}

// SetItemStatusParams is the input for UpdateItemStatus.
type SetItemStatusParams struct {
	Status ItemStatus `json:"status" validate:"required,oneof=Pending Approved Rejected Featured"`
}

// Transaction is a coin movement between two users. A purchase by the
// customer carries a negative amount.
type Transaction struct {
	ID        string `json:"id"`
	Amount    int32  `json:"amount"`
	Item      string `json:"item"`
	Timestamp uint64 `json:"timestamp"`
	Customer  string `json:"customer"`
	Merchant  string `json:"merchant"`
}

// TransactionCreateParams is the input for CreateTransaction; the
// customer is the authenticated caller.
type TransactionCreateParams struct {
	Merchant string `json:"merchant" validate:"required"`
	Item     string `json:"item" validate:"required"`
	Amount   int32  `json:"amount"`
}
