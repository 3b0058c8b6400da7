package changelog

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/users"
	"github.com/mmynk/splitledger/internal/validate"
)

// Confidence tags how a reconstruction was obtained.
type Confidence string

const (
	// Authoritative results come from the full snapshot written when the group was deleted.
	Authoritative Confidence = "authoritative"
	// BestEffort results are merged from individual expense events; people are
	// matched by display name and may be wrong.
	BestEffort Confidence = "best_effort"
)

// GroupState is a group's display state rebuilt from the log.
type GroupState struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Currency    string             `json:"currency"`
	Members     []string           `json:"members"`
	Status      models.GroupStatus `json:"status"`
}

// ReconstructedExpense is an expense's display state rebuilt from the log.
// PayeeID and PayerIDs hold the display name itself when no unique user matched it.
type ReconstructedExpense struct {
	ID               string                  `json:"id"`
	Name             string                  `json:"name"`
	Cost             decimal.Decimal         `json:"cost"`
	Deadline         string                  `json:"deadline"`
	PayeeID          string                  `json:"payeeId"`
	PayeeName        string                  `json:"payeeName"`
	PayerIDs         []string                `json:"payerIds"`
	PayerNames       []string                `json:"payerNames"`
	DistributionType models.DistributionType `json:"distributionType"`
	PayerAmounts     []models.PayerAmount    `json:"payerAmounts,omitempty"`
	Payments         []models.Payment        `json:"payments,omitempty"`
	Archived         bool                    `json:"archived"`
	File             *models.FileInfo        `json:"file,omitempty"`
	// IsDeleted is true when the expense was deleted on its own, before its group.
	IsDeleted bool `json:"isDeleted"`
}

// Reconstruction is the result of ReconstructGroup. An Authoritative result lists the
// snapshot's expenses followed by any expense deleted earlier, tagged IsDeleted.
type Reconstruction struct {
	Confidence Confidence             `json:"confidence"`
	Group      GroupState             `json:"group"`
	Expenses   []ReconstructedExpense `json:"expenses"`
	// Caveats explain every guess a best-effort result made.
	Caveats []string `json:"caveats"`
}

// ExpenseReconstruction is the result of ReconstructExpense.
type ExpenseReconstruction struct {
	Confidence Confidence           `json:"confidence"`
	Expense    ReconstructedExpense `json:"expense"`
	Caveats    []string             `json:"caveats"`
}

// ReconstructGroup rebuilds a group's display state from the entries visible to userID.
//
// The group_deleted snapshot is used when present. Otherwise expenses are merged from
// expense_created, expense_edited and expense_deleted entries and the result is tagged
// BestEffort.
func (e *Engine) ReconstructGroup(ctx context.Context, userID, groupID string) (*Reconstruction, error) {
	entries, err := e.GetGroupChangeLogsForUser(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperr.NotFound("No history found for this group")
	}

	index, err := e.identity.NameIndex(ctx)
	if err != nil {
		return nil, err
	}

	if snap, ok := groupSnapshot(entries); ok {
		r := &Reconstruction{
			Confidence: Authoritative,
			Group:      stateFromSnapshot(entries[0], snap),
			Expenses:   expensesFromSnapshot(snap),
			Caveats:    []string{},
		}
		inSnapshot := make(map[string]bool, len(snap.Expenses))
		for _, exp := range snap.Expenses {
			inSnapshot[exp.ID] = true
		}
		members := snapshotIndex(snap, index)
		for _, h := range mergeHistories(entries) {
			if h.deleted == nil || inSnapshot[h.id] {
				continue
			}
			exp, caveats := h.resolve(members)
			r.Expenses = append(r.Expenses, exp)
			r.Caveats = append(r.Caveats, caveats...)
		}
		return r, nil
	}

	r := &Reconstruction{
		Confidence: BestEffort,
		Group:      stateFromEntries(entries),
		Caveats:    []string{"No group snapshot was recorded; expenses were rebuilt from individual expense events."},
	}
	for _, h := range mergeHistories(entries) {
		exp, caveats := h.resolve(index)
		r.Expenses = append(r.Expenses, exp)
		r.Caveats = append(r.Caveats, caveats...)
	}
	if r.Expenses == nil {
		r.Expenses = []ReconstructedExpense{}
	}
	return r, nil
}

// ReconstructExpense rebuilds a single expense, typically one that was deleted.
func (e *Engine) ReconstructExpense(ctx context.Context, userID, groupID, expenseID string) (*ExpenseReconstruction, error) {
	eid, err := validate.ID("expenseId", expenseID)
	if err != nil {
		return nil, err
	}
	groupEntries, err := e.GetGroupChangeLogsForUser(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	if snap, ok := groupSnapshot(groupEntries); ok {
		for _, exp := range expensesFromSnapshot(snap) {
			if exp.ID == eid {
				return &ExpenseReconstruction{Confidence: Authoritative, Expense: exp, Caveats: []string{}}, nil
			}
		}
	}

	entries, err := e.GetExpenseChangeLogsForUser(ctx, userID, groupID, eid)
	if err != nil {
		return nil, err
	}
	histories := mergeHistories(entries)
	if len(histories) == 0 {
		return nil, apperr.NotFound("No history found for this expense")
	}

	index, err := e.identity.NameIndex(ctx)
	if err != nil {
		return nil, err
	}
	exp, caveats := histories[0].resolve(index)
	if caveats == nil {
		caveats = []string{}
	}
	return &ExpenseReconstruction{Confidence: BestEffort, Expense: exp, Caveats: caveats}, nil
}

// groupSnapshot returns the snapshot of the newest group_deleted entry that carries one.
// entries are newest first.
func groupSnapshot(entries []*models.ChangeLogEntry) (*models.GroupSnapshot, bool) {
	for _, entry := range entries {
		if entry.Action != models.ActionGroupDeleted {
			continue
		}
		var snap models.GroupSnapshot
		if err := entry.DecodeDetails(&snap); err != nil || snap.Expenses == nil {
			continue
		}
		return &snap, true
	}
	return nil, false
}

func stateFromSnapshot(newest *models.ChangeLogEntry, snap *models.GroupSnapshot) GroupState {
	return GroupState{
		ID:          newest.GroupID,
		Name:        snap.Name,
		Description: snap.Description,
		Currency:    snap.Currency,
		Members:     append([]string{}, snap.Members...),
		Status:      newest.GroupStatus,
	}
}

func expensesFromSnapshot(snap *models.GroupSnapshot) []ReconstructedExpense {
	names := make(map[string]string, len(snap.Members))
	for i, id := range snap.Members {
		if i < len(snap.MemberNames) {
			names[id] = snap.MemberNames[i]
		}
	}
	nameOf := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id
	}

	out := make([]ReconstructedExpense, 0, len(snap.Expenses))
	for _, exp := range snap.Expenses {
		r := ReconstructedExpense{
			ID:               exp.ID,
			Name:             exp.Name,
			Cost:             exp.Cost,
			Deadline:         exp.Deadline,
			PayeeID:          exp.Payee,
			PayeeName:        nameOf(exp.Payee),
			PayerIDs:         append([]string{}, exp.Payers...),
			DistributionType: exp.DistributionType,
			PayerAmounts:     exp.PayerAmounts,
			Payments:         exp.Payments,
			Archived:         exp.Archived,
			File:             exp.File,
		}
		for _, p := range exp.Payers {
			r.PayerNames = append(r.PayerNames, nameOf(p))
		}
		out = append(out, r)
	}
	return out
}

// snapshotIndex overlays the snapshot's member names on index, so names of people who
// were members when the group was deleted resolve to them first.
func snapshotIndex(snap *models.GroupSnapshot, index users.NameIndex) users.NameIndex {
	out := make(users.NameIndex, len(index)+len(snap.Members))
	for name, ids := range index {
		out[name] = ids
	}
	byName := make(map[string][]string, len(snap.Members))
	for i, id := range snap.Members {
		if i < len(snap.MemberNames) {
			byName[snap.MemberNames[i]] = append(byName[snap.MemberNames[i]], id)
		}
	}
	for name, ids := range byName {
		out[name] = ids
	}
	return out
}

// stateFromEntries takes the group's identity from the group_deleted entry when one
// exists, otherwise from the earliest entry. entries are newest first.
func stateFromEntries(entries []*models.ChangeLogEntry) GroupState {
	newest, oldest := entries[0], entries[len(entries)-1]
	state := GroupState{
		ID:       newest.GroupID,
		Name:     oldest.GroupName,
		Currency: models.DefaultCurrency,
		Members:  []string{},
		Status:   newest.GroupStatus,
	}

	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.Action != models.ActionGroupCreated && entry.Action != models.ActionGroupDeleted {
			continue
		}
		var snap models.GroupSnapshot
		if err := entry.DecodeDetails(&snap); err != nil {
			continue
		}
		if snap.Name != "" {
			state.Name = snap.Name
		}
		if snap.Currency != "" {
			state.Currency = snap.Currency
		}
		if snap.Description != "" {
			state.Description = snap.Description
		}
		if entry.Action == models.ActionGroupDeleted {
			state.Members = append([]string{}, snap.Members...)
		}
	}
	return state
}

// history collects the snapshots recorded for one expense id.
type history struct {
	id        string
	entryName string
	firstSeen int64
	created   *models.ExpenseSnapshot
	edited    *models.ExpenseSnapshot
	deleted   *models.ExpenseSnapshot
}

// mergeHistories groups expense events by expense id, ordered by first appearance.
// entries are newest first.
func mergeHistories(entries []*models.ChangeLogEntry) []*history {
	byID := make(map[string]*history)
	var order []*history

	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.ExpenseID == "" {
			continue
		}
		switch entry.Action {
		case models.ActionExpenseCreated, models.ActionExpenseEdited, models.ActionExpenseDeleted:
		default:
			continue
		}

		h, ok := byID[entry.ExpenseID]
		if !ok {
			h = &history{id: entry.ExpenseID, firstSeen: entry.Timestamp}
			byID[entry.ExpenseID] = h
			order = append(order, h)
		}
		if entry.ExpenseName != "" {
			h.entryName = entry.ExpenseName
		}

		switch entry.Action {
		case models.ActionExpenseCreated:
			var snap models.ExpenseSnapshot
			if entry.DecodeDetails(&snap) == nil {
				h.created = &snap
			}
		case models.ActionExpenseEdited:
			var edit models.ExpenseEditDetails
			if entry.DecodeDetails(&edit) == nil {
				// Entries are walked oldest first, so the last edit wins.
				h.edited = &edit.After
			}
		case models.ActionExpenseDeleted:
			var snap models.ExpenseSnapshot
			if entry.DecodeDetails(&snap) == nil {
				h.deleted = &snap
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return order[i].firstSeen < order[j].firstSeen })
	return order
}

// resolve merges the snapshots of h and maps display names to ids.
// Field values come from the most recent snapshot: deleted, then latest edit, then created.
func (h *history) resolve(index users.NameIndex) (ReconstructedExpense, []string) {
	var base models.ExpenseSnapshot
	for _, snap := range []*models.ExpenseSnapshot{h.deleted, h.edited, h.created} {
		if snap != nil {
			base = *snap
			break
		}
	}

	name := h.entryName
	for _, snap := range []*models.ExpenseSnapshot{h.created, h.edited, h.deleted} {
		if snap != nil && snap.Name != "" {
			name = snap.Name
		}
	}

	exp := ReconstructedExpense{
		ID:               h.id,
		Name:             name,
		Cost:             base.Cost,
		Deadline:         base.Deadline,
		PayeeName:        base.PayeeName,
		PayerNames:       append([]string{}, base.PayerNames...),
		DistributionType: base.DistributionType,
		Archived:         base.Archived,
		File:             base.File,
		IsDeleted:        h.deleted != nil,
	}
	if exp.DistributionType == "" {
		exp.DistributionType = models.DistributionEvenly
	}

	var caveats []string
	lookup := func(role, displayName string) string {
		id, ambiguous, ok := index.Lookup(displayName)
		switch {
		case ok:
			return id
		case ambiguous:
			caveats = append(caveats, fmt.Sprintf("Expense %q: %s %q matches several users; the name is shown instead.", name, role, displayName))
		default:
			caveats = append(caveats, fmt.Sprintf("Expense %q: %s %q matches no current user; the name is shown instead.", name, role, displayName))
		}
		return displayName
	}

	if base.PayeeName != "" {
		exp.PayeeID = lookup("payee", base.PayeeName)
	}
	exp.PayerIDs = make([]string, 0, len(base.PayerNames))
	for i, payerName := range base.PayerNames {
		id := lookup("payer", payerName)
		exp.PayerIDs = append(exp.PayerIDs, id)
		if exp.DistributionType == models.DistributionSpecific && i < len(base.Shares) {
			exp.PayerAmounts = append(exp.PayerAmounts, models.PayerAmount{PayerID: id, Amount: base.Shares[i]})
		}
	}
	if h.created == nil && h.edited == nil && h.deleted == nil {
		caveats = append(caveats, fmt.Sprintf("Expense %q: no snapshot was recorded; only its name is known.", name))
	}
	return exp, caveats
}
