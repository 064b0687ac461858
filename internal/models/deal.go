package models

import "time"

// Deal statuses
const (
	DealStatusCreated         = "created"
	DealStatusAwaitingBinding = "awaiting_binding"
	DealStatusWaitingDeposit  = "waiting_deposit"
	DealStatusTxSubmitted     = "tx_submitted"
	DealStatusFundsReceived   = "funds_received"
	DealStatusReleased        = "released"
	DealStatusRefunded        = "refunded"
	DealStatusCancelled       = "cancelled"
)

// Valid state transitions: from -> []to
var ValidDealTransitions = map[string][]string{
	DealStatusCreated:         {DealStatusAwaitingBinding, DealStatusWaitingDeposit, DealStatusCancelled},
	DealStatusAwaitingBinding: {DealStatusWaitingDeposit, DealStatusCancelled},
	DealStatusWaitingDeposit:  {DealStatusTxSubmitted, DealStatusCancelled},
	DealStatusTxSubmitted:     {DealStatusFundsReceived, DealStatusCancelled},
	DealStatusFundsReceived:   {DealStatusReleased, DealStatusRefunded, DealStatusCancelled},
	DealStatusReleased:        {},
	DealStatusRefunded:        {},
	DealStatusCancelled:       {},
}

// TerminalStatuses accept no further field or status mutation.
var TerminalStatuses = []string{DealStatusReleased, DealStatusRefunded, DealStatusCancelled}

// BindableStatuses are the statuses from which a deal may be attached to a
// group chat. Only a fresh, never-bound deal qualifies.
var BindableStatuses = []string{DealStatusCreated, DealStatusAwaitingBinding}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidDealTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	for _, s := range TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Party roles for address setting.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

func IsValidRole(role string) bool {
	return role == RoleBuyer || role == RoleSeller
}

type Deal struct {
	ID              string    `json:"id"`
	CreatorID       int64     `json:"creator_id"`
	CreatorName     string    `json:"creator_name"`
	BoundChatID     *int64    `json:"bound_chat_id,omitempty"`
	GroupInviteLink *string   `json:"group_invite_link,omitempty"`
	BuyerAddress    *string   `json:"buyer_address,omitempty"`
	SellerAddress   *string   `json:"seller_address,omitempty"`
	ReportedTxID    *string   `json:"reported_tx_id,omitempty"`
	Details         *string   `json:"details,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (d *Deal) IsTerminal() bool {
	return IsTerminalStatus(d.Status)
}

// IsBoundTo reports whether the deal is attached to the given chat.
func (d *Deal) IsBoundTo(chatID int64) bool {
	return d.BoundChatID != nil && *d.BoundChatID == chatID
}
