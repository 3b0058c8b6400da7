// Package reports builds read-only views over groups: chart data, expense search,
// payment progress and a per-user summary across groups.
package reports

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/currency"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/validate"
)

// summaryWorkers bounds the number of groups summarized at once.
const summaryWorkers = 4

// Store is the persistence reports read from.
type Store interface {
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	ListGroupsByMember(ctx context.Context, userID string) ([]*models.Group, error)
}

// Service computes reports.
type Service struct {
	store     Store
	converter currency.Converter
}

// NewService creates a report service.
func NewService(store Store, converter currency.Converter) *Service {
	return &Service{store: store, converter: converter}
}

func (s *Service) group(ctx context.Context, groupID string) (*models.Group, error) {
	gid, err := validate.ID("groupId", groupID)
	if err != nil {
		return nil, err
	}
	group, err := s.store.GetGroup(ctx, gid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("Group not found")
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to get group")
	}
	return group, nil
}

// MemberTotals is one member's activity in a group.
type MemberTotals struct {
	UserID string `json:"userId"`
	// Fronted is the total cost of expenses the member paid for as payee.
	Fronted decimal.Decimal `json:"fronted"`
	// Owed is the member's total share of other members' expenses.
	Owed decimal.Decimal `json:"owed"`
	// Paid is what the member has paid back so far.
	Paid decimal.Decimal `json:"paid"`
}

// MonthlySpend is the total cost of expenses due in one month (YYYY-MM).
type MonthlySpend struct {
	Month string          `json:"month"`
	Total decimal.Decimal `json:"total"`
}

// Graph is the data behind a group's charts.
type Graph struct {
	Members []MemberTotals `json:"members"`
	Monthly []MonthlySpend `json:"monthly"`
}

// GraphData returns per-member totals in member order and spend per deadline month.
func (s *Service) GraphData(ctx context.Context, groupID string) (*Graph, error) {
	group, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]*MemberTotals, len(group.Members))
	graph := &Graph{Members: make([]MemberTotals, 0, len(group.Members))}
	get := func(id string) *MemberTotals {
		t, ok := totals[id]
		if !ok {
			t = &MemberTotals{UserID: id}
			totals[id] = t
		}
		return t
	}
	for _, m := range group.Members {
		get(m)
	}

	monthly := make(map[string]decimal.Decimal)
	for _, e := range group.ExpenseList() {
		payee := get(e.Payee)
		payee.Fronted = payee.Fronted.Add(e.Cost)
		for payer, owed := range calculator.OwedShares(e) {
			t := get(payer)
			t.Owed = t.Owed.Add(owed)
			t.Paid = t.Paid.Add(e.PaidBy(payer))
		}
		if len(e.Deadline) >= 7 {
			month := e.Deadline[:7]
			monthly[month] = monthly[month].Add(e.Cost)
		}
	}

	// Members first, then former members still referenced by expenses.
	seen := make(map[string]bool, len(totals))
	for _, m := range group.Members {
		graph.Members = append(graph.Members, *totals[m])
		seen[m] = true
	}
	var former []string
	for id := range totals {
		if !seen[id] {
			former = append(former, id)
		}
	}
	sort.Strings(former)
	for _, id := range former {
		graph.Members = append(graph.Members, *totals[id])
	}

	graph.Monthly = make([]MonthlySpend, 0, len(monthly))
	for month, total := range monthly {
		graph.Monthly = append(graph.Monthly, MonthlySpend{Month: month, Total: total})
	}
	sort.Slice(graph.Monthly, func(i, j int) bool { return graph.Monthly[i].Month < graph.Monthly[j].Month })
	return graph, nil
}

// Sort orders for SearchExpenses. A leading "-" sorts descending.
const (
	SortCreated  = "created"
	SortDeadline = "deadline"
	SortCost     = "cost"
	SortName     = "name"
)

// Query filters SearchExpenses. Zero fields match everything.
type Query struct {
	// Text matches the expense name, ignoring case.
	Text    string
	PayeeID string
	PayerID string
	// From and To bound the deadline, inclusive (YYYY-MM-DD).
	From string
	To   string
	// Archived selects archived (true) or active (false) expenses when set.
	Archived *bool
	MinCost  any
	MaxCost  any
	Sort     string
}

type matcher struct {
	text             string
	payee, payer     string
	from, to         string
	archived         *bool
	minCost, maxCost *decimal.Decimal
	sortKey          string
	desc             bool
	// fold is per query; a Caser must not be shared between goroutines.
	fold cases.Caser
}

func compile(q Query) (*matcher, error) {
	m := &matcher{archived: q.Archived, fold: cases.Fold()}
	var err error
	if text, _ := validate.String("text", q.Text); text != "" {
		m.text = m.fold.String(text)
	}
	if q.PayeeID != "" {
		if m.payee, err = validate.ID("payeeId", q.PayeeID); err != nil {
			return nil, err
		}
	}
	if q.PayerID != "" {
		if m.payer, err = validate.ID("payerId", q.PayerID); err != nil {
			return nil, err
		}
	}
	if q.From != "" {
		if m.from, err = validate.CalendarDate("from", q.From); err != nil {
			return nil, err
		}
	}
	if q.To != "" {
		if m.to, err = validate.CalendarDate("to", q.To); err != nil {
			return nil, err
		}
	}
	if q.MinCost != nil {
		d, err := validate.Number("minCost", q.MinCost)
		if err != nil {
			return nil, err
		}
		m.minCost = &d
	}
	if q.MaxCost != nil {
		d, err := validate.Number("maxCost", q.MaxCost)
		if err != nil {
			return nil, err
		}
		m.maxCost = &d
	}

	key := q.Sort
	if strings.HasPrefix(key, "-") {
		m.desc, key = true, key[1:]
	}
	if key == "" {
		key = SortCreated
	}
	if err := validate.OneOf("sort", key, SortCreated, SortDeadline, SortCost, SortName); err != nil {
		return nil, err
	}
	m.sortKey = key
	return m, nil
}

func (m *matcher) match(e *models.Expense) bool {
	switch {
	case m.text != "" && !strings.Contains(m.fold.String(e.Name), m.text):
		return false
	case m.payee != "" && e.Payee != m.payee:
		return false
	case m.payer != "" && !e.HasPayer(m.payer):
		return false
	case m.from != "" && e.Deadline < m.from:
		return false
	case m.to != "" && e.Deadline > m.to:
		return false
	case m.archived != nil && e.Archived != *m.archived:
		return false
	case m.minCost != nil && e.Cost.LessThan(*m.minCost):
		return false
	case m.maxCost != nil && e.Cost.GreaterThan(*m.maxCost):
		return false
	}
	return true
}

func (m *matcher) less(a, b *models.Expense) bool {
	switch m.sortKey {
	case SortDeadline:
		if a.Deadline != b.Deadline {
			return a.Deadline < b.Deadline
		}
	case SortCost:
		if !a.Cost.Equal(b.Cost) {
			return a.Cost.LessThan(b.Cost)
		}
	case SortName:
		if an, bn := m.fold.String(a.Name), m.fold.String(b.Name); an != bn {
			return an < bn
		}
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}

// SearchExpenses returns the group's expenses matching q.
func (s *Service) SearchExpenses(ctx context.Context, groupID string, q Query) ([]*models.Expense, error) {
	m, err := compile(q)
	if err != nil {
		return nil, err
	}
	group, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}

	out := []*models.Expense{}
	for _, e := range group.ExpenseList() {
		if m.match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if m.desc {
			return m.less(out[j], out[i])
		}
		return m.less(out[i], out[j])
	})
	return out, nil
}

// ExpenseProgress is the repayment state of one expense.
type ExpenseProgress struct {
	ExpenseID string          `json:"expenseId"`
	Name      string          `json:"name"`
	Owed      decimal.Decimal `json:"owed"`
	Paid      decimal.Decimal `json:"paid"`
	// Percent is Paid / Owed * 100, rounded to 2 decimals. 100 when nothing is owed.
	Percent decimal.Decimal `json:"percent"`
	Settled bool            `json:"settled"`
}

// PayerProgress is one payer's repayment state across the group.
type PayerProgress struct {
	UserID    string          `json:"userId"`
	Owed      decimal.Decimal `json:"owed"`
	Paid      decimal.Decimal `json:"paid"`
	Remaining decimal.Decimal `json:"remaining"`
}

// PaymentStats summarizes repayments in a group.
type PaymentStats struct {
	Expenses     []ExpenseProgress `json:"expenses"`
	Payers       []PayerProgress   `json:"payers"`
	SettledCount int               `json:"settledCount"`
}

var hundred = decimal.NewFromInt(100)

// PaymentStats returns per expense and per payer repayment progress.
func (s *Service) PaymentStats(ctx context.Context, groupID string) (*PaymentStats, error) {
	group, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}

	stats := &PaymentStats{Expenses: []ExpenseProgress{}, Payers: []PayerProgress{}}
	payers := make(map[string]*PayerProgress)
	for _, e := range group.ExpenseList() {
		p := ExpenseProgress{ExpenseID: e.ID, Name: e.Name}
		for payer, owed := range calculator.OwedShares(e) {
			paid := e.PaidBy(payer)
			p.Owed = p.Owed.Add(owed)
			p.Paid = p.Paid.Add(paid)

			pp, ok := payers[payer]
			if !ok {
				pp = &PayerProgress{UserID: payer}
				payers[payer] = pp
			}
			pp.Owed = pp.Owed.Add(owed)
			pp.Paid = pp.Paid.Add(paid)
		}
		if p.Owed.IsPositive() {
			p.Percent = p.Paid.Div(p.Owed).Mul(hundred).Round(2)
		} else {
			p.Percent = hundred
		}
		p.Settled = p.Paid.GreaterThanOrEqual(p.Owed)
		if p.Settled {
			stats.SettledCount++
		}
		stats.Expenses = append(stats.Expenses, p)
	}

	for _, pp := range payers {
		pp.Remaining = pp.Owed.Sub(pp.Paid)
		stats.Payers = append(stats.Payers, *pp)
	}
	sort.Slice(stats.Payers, func(i, j int) bool { return stats.Payers[i].UserID < stats.Payers[j].UserID })
	return stats, nil
}

// GroupSummary is the user's position in one group, in the group's currency and
// converted to the summary currency.
type GroupSummary struct {
	GroupID  string `json:"groupId"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	// OwedToUser is what other members owe the user after netting.
	OwedToUser decimal.Decimal `json:"owedToUser"`
	// OwedByUser is what the user owes other members after netting.
	OwedByUser decimal.Decimal `json:"owedByUser"`
	// Converted holds Net in the summary currency.
	Converted decimal.Decimal `json:"converted"`
}

// UserSummary is a user's balance across all of their groups.
type UserSummary struct {
	UserID   string         `json:"userId"`
	Currency string         `json:"currency"`
	Groups   []GroupSummary `json:"groups"`
	// TotalOwedToUser and TotalOwedByUser are in Currency.
	TotalOwedToUser decimal.Decimal `json:"totalOwedToUser"`
	TotalOwedByUser decimal.Decimal `json:"totalOwedByUser"`
	Net             decimal.Decimal `json:"net"`
}

// UserSummary computes the user's netted position in every group they belong to and
// totals it in target currency (empty means USD). Groups are summarized concurrently.
func (s *Service) UserSummary(ctx context.Context, userID, target string) (*UserSummary, error) {
	uid, err := validate.ID("userId", userID)
	if err != nil {
		return nil, err
	}
	target, err = currency.Normalize(target)
	if err != nil {
		return nil, err
	}
	groups, err := s.store.ListGroupsByMember(ctx, uid)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to list groups")
	}

	type converted struct{ to, by decimal.Decimal }
	summaries := make([]GroupSummary, len(groups))
	totals := make([]converted, len(groups))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryWorkers)
	for i, group := range groups {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			balances := calculator.CalculateGroupBalances(group.ExpenseList())
			sum := GroupSummary{GroupID: group.ID, Name: group.Name, Currency: group.Currency}
			for debtor, creditors := range balances {
				for creditor, amount := range creditors {
					switch uid {
					case creditor:
						sum.OwedToUser = sum.OwedToUser.Add(amount)
					case debtor:
						sum.OwedByUser = sum.OwedByUser.Add(amount)
					}
				}
			}
			to, err := s.converter.Convert(sum.OwedToUser, group.Currency, target)
			if err != nil {
				return err
			}
			by, err := s.converter.Convert(sum.OwedByUser, group.Currency, target)
			if err != nil {
				return err
			}
			sum.Converted = to.Sub(by)
			summaries[i] = sum
			totals[i] = converted{to: to, by: by}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &UserSummary{UserID: uid, Currency: target, Groups: summaries}
	for _, t := range totals {
		out.TotalOwedToUser = out.TotalOwedToUser.Add(t.to)
		out.TotalOwedByUser = out.TotalOwedByUser.Add(t.by)
	}
	out.Net = out.TotalOwedToUser.Sub(out.TotalOwedByUser)
	return out, nil
}

// ConvertBalances converts every amount of b from one currency to another.
func (s *Service) ConvertBalances(b calculator.Balances, from, to string) (calculator.Balances, error) {
	out := make(calculator.Balances, len(b))
	for debtor, creditors := range b {
		row := make(map[string]decimal.Decimal, len(creditors))
		for creditor, amount := range creditors {
			c, err := s.converter.Convert(amount, from, to)
			if err != nil {
				return nil, err
			}
			row[creditor] = c
		}
		out[debtor] = row
	}
	return out, nil
}
