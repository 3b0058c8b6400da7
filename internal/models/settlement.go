package models

import "github.com/shopspring/decimal"

// Settlement is a suggested transfer between two members that clears part of the group's debts.
// Settlements are computed, never stored; recording one is done with a payment on an expense.
type Settlement struct {
	// FromUserID is the member who should pay (debtor settling up).
	FromUserID string `json:"fromUserId"`

	// ToUserID is the member who should receive (creditor being paid).
	ToUserID string `json:"toUserId"`

	Amount decimal.Decimal `json:"amount"`
}
