package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/models"
)

// EvenShare returns one payer's share of cost split n ways, rounded to 2 decimals.
// The remainder is not redistributed: n shares may differ from cost by up to 0.01*n.
func EvenShare(cost decimal.Decimal, n int) decimal.Decimal {
	if n <= 0 {
		return decimal.Zero
	}
	return cost.Div(decimal.NewFromInt(int64(n))).Round(2)
}

// OwedBy computes how much payerID owes on the expense before payments.
// The payee and non-payers owe nothing.
//
// Algorithm:
//   - specific: the payer's explicit amount
//   - evenly: cost / number of payers (payee counted in n when listed), rounded to 2 decimals
func OwedBy(e *models.Expense, payerID string) decimal.Decimal {
	if payerID == e.Payee || !e.HasPayer(payerID) {
		return decimal.Zero
	}
	if e.DistributionType == models.DistributionSpecific {
		amount, _ := e.SpecificAmount(payerID)
		return amount.Round(2)
	}
	return EvenShare(e.Cost, len(e.Payers))
}

// OwedShares returns the owed amount of every payer other than the payee.
func OwedShares(e *models.Expense) map[string]decimal.Decimal {
	shares := make(map[string]decimal.Decimal, len(e.Payers))
	for _, p := range e.Payers {
		if p == e.Payee {
			continue
		}
		shares[p] = OwedBy(e, p)
	}
	return shares
}

// Remaining returns what payerID still owes on the expense.
func Remaining(e *models.Expense, payerID string) decimal.Decimal {
	return OwedBy(e, payerID).Sub(e.PaidBy(payerID))
}

// SumAmounts adds the explicit shares of a specific expense.
func SumAmounts(amounts []models.PayerAmount) decimal.Decimal {
	total := decimal.Zero
	for _, pa := range amounts {
		total = total.Add(pa.Amount)
	}
	return total.Round(2)
}
