package models

import "github.com/shopspring/decimal"

// DistributionType selects how an expense's cost is divided among its payers.
type DistributionType string

const (
	// DistributionEvenly splits the cost equally; shares are implicit.
	DistributionEvenly DistributionType = "evenly"
	// DistributionSpecific uses explicit PayerAmounts that sum to the cost.
	DistributionSpecific DistributionType = "specific"
)

// Expense is one cost fronted by the payee and owed by the payers.
// Expenses live inside their Group.
type Expense struct {
	ID      string `json:"id"`
	GroupID string `json:"groupId"`
	Name    string `json:"name"`

	// Cost is positive with at most 2 decimal places.
	Cost decimal.Decimal `json:"cost"`

	// Deadline is a calendar date (YYYY-MM-DD).
	Deadline string `json:"deadline"`

	// Payee is the member who fronted the money. The payee never owes themself,
	// even when listed in Payers.
	Payee string `json:"payee"`

	// Payers is the ordered, duplicate-free list of members sharing the cost.
	Payers []string `json:"payers"`

	DistributionType DistributionType `json:"distributionType"`

	// PayerAmounts holds one share per payer for DistributionSpecific, empty otherwise.
	PayerAmounts []PayerAmount `json:"payerAmounts,omitempty"`

	// Payments accumulate per payer; at most one record per payer.
	Payments []Payment `json:"payments"`

	Archived bool `json:"archived"`

	// File is optional attachment metadata. The file itself is stored elsewhere.
	File *FileInfo `json:"file,omitempty"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// PayerAmount is an explicit owed share.
type PayerAmount struct {
	PayerID string          `json:"payerId"`
	Amount  decimal.Decimal `json:"amount"`
}

// Payment is the cumulative amount a payer has paid back on an expense.
type Payment struct {
	PayerID    string          `json:"payerId"`
	PaidAmount decimal.Decimal `json:"paidAmount"`
}

// FileInfo describes an attachment.
type FileInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// HasPayer reports whether userID is listed as a payer.
func (e *Expense) HasPayer(userID string) bool {
	for _, p := range e.Payers {
		if p == userID {
			return true
		}
	}
	return false
}

// PaidBy returns the total recorded payments of payerID.
func (e *Expense) PaidBy(payerID string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range e.Payments {
		if p.PayerID == payerID {
			total = total.Add(p.PaidAmount)
		}
	}
	return total
}

// SpecificAmount returns the explicit share of payerID and whether one exists.
func (e *Expense) SpecificAmount(payerID string) (decimal.Decimal, bool) {
	for _, pa := range e.PayerAmounts {
		if pa.PayerID == payerID {
			return pa.Amount, true
		}
	}
	return decimal.Zero, false
}

// Clone returns a deep copy of the expense.
func (e *Expense) Clone() *Expense {
	c := *e
	c.Payers = append([]string(nil), e.Payers...)
	c.PayerAmounts = append([]PayerAmount(nil), e.PayerAmounts...)
	c.Payments = append([]Payment(nil), e.Payments...)
	if e.File != nil {
		f := *e.File
		c.File = &f
	}
	return &c
}
