// Package calculator turns expense records into owed shares, netted pairwise balances
// and settle-up plans. Everything here is pure and safe for concurrent use.
package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/models"
)

// Balances maps debtor -> creditor -> amount. After netting, at most one direction
// of any pair is present and every amount is positive with 2 decimals.
type Balances map[string]map[string]decimal.Decimal

// Owes returns the amount debtor owes creditor, or zero.
func (b Balances) Owes(debtor, creditor string) decimal.Decimal {
	return b[debtor][creditor]
}

func (b Balances) add(debtor, creditor string, amount decimal.Decimal) {
	if _, exists := b[debtor]; !exists {
		b[debtor] = make(map[string]decimal.Decimal)
	}
	b[debtor][creditor] = b[debtor][creditor].Add(amount)
}

// MemberBalance summarizes one member's position in a group.
type MemberBalance struct {
	UserID string `json:"userId"`
	// Lent is the total other members owe this member.
	Lent decimal.Decimal `json:"lent"`
	// Owes is the total this member owes others.
	Owes decimal.Decimal `json:"owes"`
	// NetBalance is Lent - Owes. Positive = owed money, negative = owes money.
	NetBalance decimal.Decimal `json:"netBalance"`
}

// CalculateGroupBalances computes netted pairwise debts across all expenses of a group.
// Archived expenses count. A group without cross-balances yields an empty map.
//
// Algorithm:
//   - For each expense and each payer other than the payee: remaining = owed - paid
//   - Accumulate remaining into raw[payer][payee] across all expenses
//   - Netting: for each pair keep only the positive direction of raw[a][b] - raw[b][a]
func CalculateGroupBalances(expenses []*models.Expense) Balances {
	raw := make(Balances)
	for _, e := range expenses {
		for payer, owed := range OwedShares(e) {
			remaining := owed.Sub(e.PaidBy(payer))
			if !remaining.IsPositive() {
				continue
			}
			raw.add(payer, e.Payee, remaining)
		}
	}

	netted := make(Balances)
	for debtor, creditors := range raw {
		for creditor, amount := range creditors {
			net := amount.Sub(raw.Owes(creditor, debtor)).Round(2)
			if net.IsPositive() {
				netted.add(debtor, creditor, net)
			}
		}
	}
	return netted
}

// Summarize returns one MemberBalance per member appearing in b, sorted by user id.
func Summarize(b Balances) []MemberBalance {
	byUser := make(map[string]*MemberBalance)
	get := func(id string) *MemberBalance {
		if _, exists := byUser[id]; !exists {
			byUser[id] = &MemberBalance{UserID: id, Lent: decimal.Zero, Owes: decimal.Zero}
		}
		return byUser[id]
	}

	for debtor, creditors := range b {
		for creditor, amount := range creditors {
			get(debtor).Owes = get(debtor).Owes.Add(amount)
			get(creditor).Lent = get(creditor).Lent.Add(amount)
		}
	}

	summary := make([]MemberBalance, 0, len(byUser))
	for _, mb := range byUser {
		mb.NetBalance = mb.Lent.Sub(mb.Owes)
		summary = append(summary, *mb)
	}
	sort.Slice(summary, func(i, j int) bool { return summary[i].UserID < summary[j].UserID })
	return summary
}

// SettleUp proposes a small set of transfers that clears every balance in b.
//
// Algorithm: compute each member's net position, then greedily match the largest
// debtor with the largest creditor until both sides are exhausted.
func SettleUp(b Balances) []models.Settlement {
	var creditors, debtors []MemberBalance
	for _, mb := range Summarize(b) {
		switch {
		case mb.NetBalance.IsPositive():
			creditors = append(creditors, mb)
		case mb.NetBalance.IsNegative():
			mb.NetBalance = mb.NetBalance.Neg()
			debtors = append(debtors, mb)
		}
	}
	byAmount := func(list []MemberBalance) {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].NetBalance.GreaterThan(list[j].NetBalance)
		})
	}
	byAmount(creditors)
	byAmount(debtors)

	var plan []models.Settlement
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := decimal.Min(debtors[i].NetBalance, creditors[j].NetBalance)
		if amount.IsPositive() {
			plan = append(plan, models.Settlement{
				FromUserID: debtors[i].UserID,
				ToUserID:   creditors[j].UserID,
				Amount:     amount,
			})
		}

		debtors[i].NetBalance = debtors[i].NetBalance.Sub(amount)
		creditors[j].NetBalance = creditors[j].NetBalance.Sub(amount)

		if !debtors[i].NetBalance.IsPositive() {
			i++
		}
		if !creditors[j].NetBalance.IsPositive() {
			j++
		}
	}
	return plan
}
