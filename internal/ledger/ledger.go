// Package ledger implements expense mutations: creation, payments, archiving,
// edits and deletion. Every mutation is one atomic storage update followed by a
// best-effort change-log entry visible to all group members.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/changelog"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/validate"
)

const nameMax = 100

// Store is the persistence the ledger needs.
type Store interface {
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	InsertExpense(ctx context.Context, expense *models.Expense) error
	UpdateExpense(ctx context.Context, groupID, expenseID string, fn func(*models.Expense) error) (*models.Expense, error)
	DeleteExpense(ctx context.Context, groupID, expenseID string) (*models.Expense, error)
}

// Identity resolves actors and display names.
type Identity interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	DisplayNames(ctx context.Context, ids []string) (map[string]string, error)
}

// ChangeLog receives the entries emitted by mutations.
type ChangeLog interface {
	AddChangeLogToAllMembers(ctx context.Context, in changelog.NewEntry) (*models.ChangeLogEntry, error)
}

// Service implements the expense ledger.
type Service struct {
	store     Store
	identity  Identity
	changelog ChangeLog
	logger    *slog.Logger
}

// NewService creates a ledger service.
func NewService(store Store, identity Identity, changelog ChangeLog, logger *slog.Logger) *Service {
	return &Service{store: store, identity: identity, changelog: changelog, logger: logger}
}

// AmountInput is one explicit share as received from a caller.
type AmountInput struct {
	PayerID string
	Amount  any
}

// ExpenseInput carries the loosely typed fields of a create or edit request.
// Cost and Deadline accept anything the validate package accepts.
type ExpenseInput struct {
	Name             string
	Cost             any
	Deadline         any
	Payee            string
	Payers           []string
	DistributionType models.DistributionType
	PayerAmounts     []AmountInput
	File             *models.FileInfo
}

// fields is a validated ExpenseInput.
type fields struct {
	name         string
	cost         decimal.Decimal
	deadline     string
	payee        string
	payers       []string
	distribution models.DistributionType
	amounts      []models.PayerAmount
	file         *models.FileInfo
}

// parse runs every check that does not need the group.
func parse(in ExpenseInput) (*fields, error) {
	name, err := validate.NonEmptyString("name", in.Name)
	if err != nil {
		return nil, err
	}
	if err := validate.Length("name", name, 1, nameMax); err != nil {
		return nil, err
	}
	cost, err := validate.PositiveMoney("cost", in.Cost)
	if err != nil {
		return nil, err
	}
	deadline, err := validate.CalendarDate("deadline", in.Deadline)
	if err != nil {
		return nil, err
	}
	payee, err := validate.ID("payee", in.Payee)
	if err != nil {
		return nil, err
	}
	payers, err := validate.IDList("payers", in.Payers)
	if err != nil {
		return nil, err
	}

	dist := in.DistributionType
	if dist == "" {
		dist = models.DistributionEvenly
	}
	if err := validate.OneOf("distributionType", string(dist),
		string(models.DistributionEvenly), string(models.DistributionSpecific)); err != nil {
		return nil, err
	}

	f := &fields{
		name:         name,
		cost:         cost,
		deadline:     deadline,
		payee:        payee,
		payers:       payers,
		distribution: dist,
	}
	if dist == models.DistributionSpecific {
		if f.amounts, err = parseAmounts(payers, cost, in.PayerAmounts); err != nil {
			return nil, err
		}
	}
	if in.File != nil {
		if f.file, err = parseFile(in.File); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// parseAmounts returns one share per payer, in payer order.
func parseAmounts(payers []string, cost decimal.Decimal, raw []AmountInput) ([]models.PayerAmount, error) {
	isPayer := make(map[string]bool, len(payers))
	for _, p := range payers {
		isPayer[p] = true
	}

	byPayer := make(map[string]decimal.Decimal, len(raw))
	for _, in := range raw {
		id, err := validate.ID("payerAmounts.payerId", in.PayerID)
		if err != nil {
			return nil, err
		}
		if !isPayer[id] {
			return nil, apperr.InvalidArgument("payerAmounts", apperr.RuleFormat, "Amount given for %s, who is not a payer", id)
		}
		if _, dup := byPayer[id]; dup {
			return nil, apperr.InvalidArgument("payerAmounts", apperr.RuleFormat, "Amount given twice for payer %s", id)
		}
		amount, err := validate.PositiveMoney("payerAmounts.amount", in.Amount)
		if err != nil {
			return nil, err
		}
		byPayer[id] = amount
	}

	amounts := make([]models.PayerAmount, 0, len(payers))
	for _, p := range payers {
		amount, ok := byPayer[p]
		if !ok {
			return nil, apperr.InvalidArgument("payerAmounts", apperr.RuleRequired, "Amount required for payer %s", p)
		}
		amounts = append(amounts, models.PayerAmount{PayerID: p, Amount: amount})
	}

	if sum := calculator.SumAmounts(amounts); !sum.Equal(cost.Round(2)) {
		return nil, apperr.Conflict("Sum of payer amounts (%s) must equal the expense cost (%s)",
			sum.StringFixed(2), cost.StringFixed(2))
	}
	return amounts, nil
}

func parseFile(in *models.FileInfo) (*models.FileInfo, error) {
	name, err := validate.NonEmptyString("file.name", in.Name)
	if err != nil {
		return nil, err
	}
	if in.Size < 0 {
		return nil, apperr.InvalidArgument("file.size", apperr.RuleRange, "file.size must not be negative")
	}
	f := *in
	f.Name = name
	return &f, nil
}

// checkMembers requires payee and payers to belong to the group.
func (f *fields) checkMembers(group *models.Group) error {
	if !group.HasMember(f.payee) {
		return apperr.InvalidArgument("payee", apperr.RuleFormat, "payee must be a member of the group")
	}
	for _, p := range f.payers {
		if !group.HasMember(p) {
			return apperr.InvalidArgument("payers", apperr.RuleFormat, "payer %s is not a member of the group", p)
		}
	}
	return nil
}

func (s *Service) actor(ctx context.Context, actorID string) (models.Actor, error) {
	user, err := s.identity.GetUser(ctx, actorID)
	if err != nil {
		return models.Actor{}, err
	}
	return user.Actor(), nil
}

func (s *Service) loadGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("Group not found")
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to get group")
	}
	return group, nil
}

// ids validates a group and expense id pair.
func ids(groupID, expenseID string) (string, string, error) {
	gid, err := validate.ID("groupId", groupID)
	if err != nil {
		return "", "", err
	}
	eid, err := validate.ID("expenseId", expenseID)
	if err != nil {
		return "", "", err
	}
	return gid, eid, nil
}

// mapUpdateErr passes apperr errors through and maps storage errors.
func mapUpdateErr(err error, notFound, action string) error {
	if apperr.KindOf(err) != 0 {
		return err
	}
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("%s", notFound)
	}
	return apperr.Persistence(err, "failed to %s", action)
}

// snapshot records e with people as display names.
func (s *Service) snapshot(ctx context.Context, e *models.Expense) models.ExpenseSnapshot {
	ids := append([]string{e.Payee}, e.Payers...)
	names, err := s.identity.DisplayNames(ctx, ids)
	if err != nil {
		s.logger.Warn("Failed to resolve display names", "expense_id", e.ID, "error", err)
		names = make(map[string]string, len(ids))
		for _, id := range ids {
			names[id] = id
		}
	}

	snap := models.ExpenseSnapshot{
		ID:               e.ID,
		Name:             e.Name,
		Cost:             e.Cost,
		Deadline:         e.Deadline,
		PayeeName:        names[e.Payee],
		PayerNames:       make([]string, 0, len(e.Payers)),
		DistributionType: e.DistributionType,
		Archived:         e.Archived,
		File:             e.File,
	}
	for _, p := range e.Payers {
		snap.PayerNames = append(snap.PayerNames, names[p])
		if e.DistributionType == models.DistributionSpecific {
			amount, _ := e.SpecificAmount(p)
			snap.Shares = append(snap.Shares, amount)
		}
	}
	return snap
}

func (s *Service) record(ctx context.Context, action string, group *models.Group, e *models.Expense, actor models.Actor, details any) {
	if _, err := s.changelog.AddChangeLogToAllMembers(ctx, changelog.NewEntry{
		Action:      action,
		Type:        models.EntityExpense,
		GroupID:     group.ID,
		GroupName:   group.Name,
		ExpenseID:   e.ID,
		ExpenseName: e.Name,
		PerformedBy: actor,
		Details:     details,
	}); err != nil {
		s.logger.Warn("Failed to record change log",
			"action", action,
			"group_id", group.ID,
			"expense_id", e.ID,
			"error", err,
		)
	}
}

// CreateExpense validates in and adds a new, unarchived expense to the group.
func (s *Service) CreateExpense(ctx context.Context, actorID, groupID string, in ExpenseInput) (*models.Expense, error) {
	gid, err := validate.ID("groupId", groupID)
	if err != nil {
		return nil, err
	}
	f, err := parse(in)
	if err != nil {
		return nil, err
	}
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	group, err := s.loadGroup(ctx, gid)
	if err != nil {
		return nil, err
	}
	if err := f.checkMembers(group); err != nil {
		return nil, err
	}

	expense := &models.Expense{
		GroupID:          group.ID,
		Name:             f.name,
		Cost:             f.cost,
		Deadline:         f.deadline,
		Payee:            f.payee,
		Payers:           f.payers,
		DistributionType: f.distribution,
		PayerAmounts:     f.amounts,
		Payments:         []models.Payment{},
		File:             f.file,
	}
	if err := s.store.InsertExpense(ctx, expense); err != nil {
		return nil, apperr.Persistence(err, "failed to create expense")
	}

	s.record(ctx, models.ActionExpenseCreated, group, expense, actor, s.snapshot(ctx, expense))
	return expense, nil
}

// AddPayment records amount paid back by payerID. A payment that would take the payer's
// cumulative total above what they owe is rejected and nothing is stored.
func (s *Service) AddPayment(ctx context.Context, actorID, groupID, expenseID, payerID string, amount any) (*models.Expense, error) {
	gid, eid, err := ids(groupID, expenseID)
	if err != nil {
		return nil, err
	}
	pid, err := validate.ID("payerId", payerID)
	if err != nil {
		return nil, err
	}
	paid, err := validate.PositiveMoney("amount", amount)
	if err != nil {
		return nil, err
	}
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	group, err := s.loadGroup(ctx, gid)
	if err != nil {
		return nil, err
	}

	var details models.PaymentDetails
	expense, err := s.store.UpdateExpense(ctx, group.ID, eid, func(e *models.Expense) error {
		if !e.HasPayer(pid) {
			return apperr.InvalidArgument("payerId", apperr.RuleFormat, "User %s is not a payer of this expense", pid)
		}
		owed := calculator.OwedBy(e, pid)
		already := e.PaidBy(pid)
		total := already.Add(paid)
		if total.GreaterThan(owed) {
			return apperr.Conflict("Payment of %s exceeds the remaining amount owed (%s)",
				paid.StringFixed(2), owed.Sub(already).StringFixed(2))
		}

		found := false
		for i := range e.Payments {
			if e.Payments[i].PayerID == pid {
				e.Payments[i].PaidAmount = e.Payments[i].PaidAmount.Add(paid)
				found = true
				break
			}
		}
		if !found {
			e.Payments = append(e.Payments, models.Payment{PayerID: pid, PaidAmount: paid})
		}
		details = models.PaymentDetails{PayerID: pid, Amount: paid, TotalPaid: total, Owed: owed}
		return nil
	})
	if err != nil {
		return nil, mapUpdateErr(err, "Expense not found", "add payment")
	}

	if names, err := s.identity.DisplayNames(ctx, []string{pid}); err == nil {
		details.PayerName = names[pid]
	}
	s.record(ctx, models.ActionPaymentAdded, group, expense, actor, details)
	return expense, nil
}

// ArchiveExpense sets the archived flag. Archiving an archived expense changes nothing
// and writes no entry. Unknown ids fail with NotFound.
func (s *Service) ArchiveExpense(ctx context.Context, actorID, groupID, expenseID string) (*models.Expense, error) {
	return s.setArchived(ctx, actorID, groupID, expenseID, true)
}

// UnarchiveExpense clears the archived flag. See ArchiveExpense.
func (s *Service) UnarchiveExpense(ctx context.Context, actorID, groupID, expenseID string) (*models.Expense, error) {
	return s.setArchived(ctx, actorID, groupID, expenseID, false)
}

func (s *Service) setArchived(ctx context.Context, actorID, groupID, expenseID string, archived bool) (*models.Expense, error) {
	notFound, action := "Could not unarchive expense.", models.ActionExpenseUnarchived
	if archived {
		notFound, action = "Could not archive expense.", models.ActionExpenseArchived
	}

	gid, eid, err := ids(groupID, expenseID)
	if err != nil {
		return nil, err
	}
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	group, err := s.store.GetGroup(ctx, gid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("%s", notFound)
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to get group")
	}

	changed := false
	expense, err := s.store.UpdateExpense(ctx, group.ID, eid, func(e *models.Expense) error {
		changed = e.Archived != archived
		e.Archived = archived
		return nil
	})
	if err != nil {
		return nil, mapUpdateErr(err, notFound, "update expense")
	}

	if changed {
		s.record(ctx, action, group, expense, actor, map[string]models.FieldChange{
			"archived": {Old: !archived, New: archived},
		})
	}
	return expense, nil
}

// EditExpense replaces the editable fields of an expense. Payments and the archived
// flag are kept; payments of removed payers are dropped. An edit that would leave a
// payer having paid more than their new share is rejected.
func (s *Service) EditExpense(ctx context.Context, actorID, groupID, expenseID string, in ExpenseInput) (*models.Expense, error) {
	gid, eid, err := ids(groupID, expenseID)
	if err != nil {
		return nil, err
	}
	f, err := parse(in)
	if err != nil {
		return nil, err
	}
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	group, err := s.loadGroup(ctx, gid)
	if err != nil {
		return nil, err
	}
	if err := f.checkMembers(group); err != nil {
		return nil, err
	}

	var before *models.Expense
	expense, err := s.store.UpdateExpense(ctx, group.ID, eid, func(e *models.Expense) error {
		before = e.Clone()

		e.Name = f.name
		e.Cost = f.cost
		e.Deadline = f.deadline
		e.Payee = f.payee
		e.Payers = f.payers
		e.DistributionType = f.distribution
		e.PayerAmounts = f.amounts
		e.File = f.file

		kept := make([]models.Payment, 0, len(e.Payments))
		for _, p := range e.Payments {
			if !e.HasPayer(p.PayerID) {
				continue
			}
			if owed := calculator.OwedBy(e, p.PayerID); p.PaidAmount.GreaterThan(owed) {
				return apperr.Conflict("Payer %s has already paid %s, which exceeds the new amount owed (%s)",
					p.PayerID, p.PaidAmount.StringFixed(2), owed.StringFixed(2))
			}
			kept = append(kept, p)
		}
		e.Payments = kept
		return nil
	})
	if err != nil {
		return nil, mapUpdateErr(err, "Expense not found", "edit expense")
	}

	beforeSnap, afterSnap := s.snapshot(ctx, before), s.snapshot(ctx, expense)
	if changes := diff(before, expense, beforeSnap, afterSnap); len(changes) > 0 {
		s.record(ctx, models.ActionExpenseEdited, group, expense, actor, models.ExpenseEditDetails{
			Before:  beforeSnap,
			After:   afterSnap,
			Changes: changes,
		})
	}
	return expense, nil
}

// diff lists the fields that differ between two versions of an expense. People and
// files are compared by id and full metadata; the recorded values are the display forms
// from the snapshots.
func diff(before, after *models.Expense, bs, as models.ExpenseSnapshot) map[string]models.FieldChange {
	changes := make(map[string]models.FieldChange)
	if before.Name != after.Name {
		changes["name"] = models.FieldChange{Old: before.Name, New: after.Name}
	}
	if !before.Cost.Equal(after.Cost) {
		changes["cost"] = models.FieldChange{Old: before.Cost.StringFixed(2), New: after.Cost.StringFixed(2)}
	}
	if before.Deadline != after.Deadline {
		changes["deadline"] = models.FieldChange{Old: before.Deadline, New: after.Deadline}
	}
	if before.Payee != after.Payee {
		changes["payee"] = models.FieldChange{Old: bs.PayeeName, New: as.PayeeName}
	}
	if !slices.Equal(before.Payers, after.Payers) {
		changes["payers"] = models.FieldChange{Old: bs.PayerNames, New: as.PayerNames}
	}
	if before.DistributionType != after.DistributionType {
		changes["distributionType"] = models.FieldChange{Old: before.DistributionType, New: after.DistributionType}
	}
	if !equalAmounts(before.PayerAmounts, after.PayerAmounts) {
		changes["payerAmounts"] = models.FieldChange{Old: bs.Shares, New: as.Shares}
	}
	if !equalFiles(before.File, after.File) {
		changes["file"] = models.FieldChange{Old: fileName(before.File), New: fileName(after.File)}
	}
	return changes
}

func equalAmounts(a, b []models.PayerAmount) bool {
	return slices.EqualFunc(a, b, func(x, y models.PayerAmount) bool {
		return x.PayerID == y.PayerID && x.Amount.Equal(y.Amount)
	})
}

func equalFiles(a, b *models.FileInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func fileName(f *models.FileInfo) string {
	if f == nil {
		return ""
	}
	return f.Name
}

// DeleteExpense removes an expense and returns it as it was, including file metadata,
// so the caller can clean up the attachment.
func (s *Service) DeleteExpense(ctx context.Context, actorID, groupID, expenseID string) (*models.Expense, error) {
	gid, eid, err := ids(groupID, expenseID)
	if err != nil {
		return nil, err
	}
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	group, err := s.loadGroup(ctx, gid)
	if err != nil {
		return nil, err
	}

	removed, err := s.store.DeleteExpense(ctx, group.ID, eid)
	if err != nil {
		return nil, mapUpdateErr(err, "Expense not found", "delete expense")
	}

	s.record(ctx, models.ActionExpenseDeleted, group, removed, actor, s.snapshot(ctx, removed))
	return removed, nil
}

// GetExpense returns one expense of a group.
func (s *Service) GetExpense(ctx context.Context, groupID, expenseID string) (*models.Expense, error) {
	gid, eid, err := ids(groupID, expenseID)
	if err != nil {
		return nil, err
	}
	group, err := s.loadGroup(ctx, gid)
	if err != nil {
		return nil, err
	}
	expense, ok := group.Expenses[eid]
	if !ok {
		return nil, apperr.NotFound("Expense not found")
	}
	return expense, nil
}

// ListExpenses returns the group's expenses oldest first.
func (s *Service) ListExpenses(ctx context.Context, groupID string, includeArchived bool) ([]*models.Expense, error) {
	gid, err := validate.ID("groupId", groupID)
	if err != nil {
		return nil, err
	}
	group, err := s.loadGroup(ctx, gid)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Expense, 0, len(group.Expenses))
	for _, e := range group.ExpenseList() {
		if e.Archived && !includeArchived {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
