package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// PaymentType is the instrument a checkout is charged with
type PaymentType string

const (
	PaymentTypeBRI       PaymentType = "bri"
	PaymentTypeBCA       PaymentType = "bca"
	PaymentTypeBNI       PaymentType = "bni"
	PaymentTypeIndomaret PaymentType = "indomaret"
	PaymentTypeAlfamart  PaymentType = "alfamart"
)

// PaymentTypes lists every supported instrument
var PaymentTypes = []PaymentType{
	PaymentTypeBRI,
	PaymentTypeBCA,
	PaymentTypeBNI,
	PaymentTypeIndomaret,
	PaymentTypeAlfamart,
}

// Valid reports whether p is a supported instrument
func (p PaymentType) Valid() bool {
	for _, t := range PaymentTypes {
		if t == p {
			return true
		}
	}
	return false
}

// IsBankTransfer reports whether p is charged as a virtual account transfer.
// The remaining instruments are convenience stores.
func (p PaymentType) IsBankTransfer() bool {
	switch p {
	case PaymentTypeBRI, PaymentTypeBCA, PaymentTypeBNI:
		return true
	}
	return false
}

// Order statuses mirror the gateway's transaction_status vocabulary. The
// field is free text so unknown statuses are stored as received.
const (
	OrderStatusPending    = "pending"
	OrderStatusSettlement = "settlement"
	OrderStatusDeny       = "deny"
	OrderStatusCancel     = "cancel"
	OrderStatusExpire     = "expire"
)

// Order is one purchase attempt of a price tier
type Order struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	GatewayOrderID string      `gorm:"type:varchar(100);uniqueIndex;not null" json:"order_id"`
	UserID         uint        `gorm:"not null;index:idx_orders_user_status,priority:1" json:"user_id"`
	PriceID        uint        `gorm:"not null" json:"price_id"`
	Months         int         `gorm:"not null" json:"months"`
	GrossAmount    int64       `gorm:"not null" json:"gross_amount"`
	PaymentType    PaymentType `gorm:"type:varchar(20);not null" json:"payment_type"`
	Status         string      `gorm:"type:varchar(50);not null;default:'pending';index:idx_orders_user_status,priority:2" json:"status"`

	// Processed is true iff the settlement effect of this order is
	// currently applied to the owner's subscription.
	Processed bool `gorm:"not null;default:false" json:"processed"`

	RawCharge       json.RawMessage `gorm:"type:jsonb" json:"charge,omitempty"`
	RawNotification json.RawMessage `gorm:"type:jsonb" json:"notification,omitempty"`

	User  *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Price *Price `gorm:"foreignKey:PriceID" json:"price,omitempty"`
}

// IsPending reports whether the order still awaits a terminal notification
func (o Order) IsPending() bool {
	return o.Status == OrderStatusPending
}

// OrderEvent is the slim payload pushed to the owner after a notification
// has been applied.
type OrderEvent struct {
	ID             uint      `json:"id"`
	GatewayOrderID string    `json:"order_id"`
	Status         string    `json:"status"`
	Processed      bool      `json:"processed"`
	Months         int       `json:"months"`
	GrossAmount    int64     `json:"gross_amount"`
	PaymentType    string    `json:"payment_type"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Event builds the push payload for o
func (o Order) Event() OrderEvent {
	return OrderEvent{
		ID:             o.ID,
		GatewayOrderID: o.GatewayOrderID,
		Status:         o.Status,
		Processed:      o.Processed,
		Months:         o.Months,
		GrossAmount:    o.GrossAmount,
		PaymentType:    string(o.PaymentType),
		UpdatedAt:      o.UpdatedAt,
	}
}
