package models

import (
	"encoding/json"
	"time"
)

type PaymentGateway string

const (
	PaymentGatewayMidtrans PaymentGateway = "midtrans"
)

// Transition names the effect a notification had on an order
type Transition string

const (
	TransitionSettlementApply    Transition = "settlement_apply"
	TransitionSettlementReversal Transition = "settlement_reversal"
	TransitionPassThrough        Transition = "pass_through"
	TransitionMalformed          Transition = "malformed"
	TransitionIntegrityError     Transition = "integrity_error"
)

// PaymentCallbackHistory is the append-only audit of every notification the
// applier resolved to an order.
type PaymentCallbackHistory struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	PaymentGateway    PaymentGateway  `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	OrderID           uint            `gorm:"index" json:"order_id"`
	GatewayOrderID    string          `gorm:"type:varchar(100);index" json:"gateway_order_id"`
	TransactionStatus string          `gorm:"type:varchar(50)" json:"transaction_status"`
	Transition        Transition      `gorm:"type:varchar(50)" json:"transition"`
	Metadata          json.RawMessage `gorm:"type:jsonb" json:"metadata"`
	CreatedAt         time.Time       `json:"created_at"`
}
