package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// EntityType is the kind of entity a change-log entry is about.
type EntityType string

const (
	EntityGroup   EntityType = "group"
	EntityExpense EntityType = "expense"
)

// GroupStatus is the group's state as recorded on a change-log entry.
type GroupStatus string

const (
	GroupActive  GroupStatus = "active"
	GroupDeleted GroupStatus = "deleted"
)

// Actions written by the group and ledger packages. Action is free-form; these are the known tags.
const (
	ActionGroupCreated      = "group_created"
	ActionGroupEdited       = "group_edited"
	ActionGroupDeleted      = "group_deleted"
	ActionMemberAdded       = "member_added"
	ActionMemberRemoved     = "member_removed"
	ActionPostAdded         = "post_added"
	ActionPostDeleted       = "post_deleted"
	ActionExpenseCreated    = "expense_created"
	ActionExpenseEdited     = "expense_edited"
	ActionExpenseDeleted    = "expense_deleted"
	ActionPaymentAdded      = "payment_added"
	ActionExpenseArchived   = "expense_archived"
	ActionExpenseUnarchived = "expense_unarchived"
)

// Actor identifies who performed an action. UserName is a snapshot of the display name.
type Actor struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// ChangeLogEntry is an immutable audit record.
// Only GroupStatus and VisibleTo are ever rewritten, and only in bulk per group.
type ChangeLogEntry struct {
	ID          string      `json:"id"`
	Action      string      `json:"action"`
	Type        EntityType  `json:"type"`
	GroupID     string      `json:"groupId"`
	GroupName   string      `json:"groupName"`
	GroupStatus GroupStatus `json:"groupStatus"`
	ExpenseID   string      `json:"expenseId,omitempty"`
	ExpenseName string      `json:"expenseName,omitempty"`

	// VisibleTo is the non-empty set of user ids allowed to read the entry.
	VisibleTo []string `json:"visibleTo"`

	PerformedBy Actor `json:"performedBy"`

	// Details is a JSON object: field diffs, or full snapshots for deletions.
	Details json.RawMessage `json:"details,omitempty"`

	// Timestamp is Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// DecodeDetails unmarshals the entry's details into v. Empty details leave v untouched.
func (e *ChangeLogEntry) DecodeDetails(v any) error {
	if len(e.Details) == 0 {
		return nil
	}
	return json.Unmarshal(e.Details, v)
}

// FieldChange records one field's old and new values.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ExpenseSnapshot is the expense state recorded on per-expense entries.
// People are recorded by display name; ids are present only when the writer knew them.
type ExpenseSnapshot struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Cost             decimal.Decimal  `json:"cost"`
	Deadline         string           `json:"deadline"`
	PayeeName        string           `json:"payeeName"`
	PayerNames       []string         `json:"payerNames"`
	DistributionType DistributionType `json:"distributionType"`
	// Shares is aligned with PayerNames and set only for DistributionSpecific.
	Shares   []decimal.Decimal `json:"shares,omitempty"`
	Archived bool              `json:"archived"`
	File     *FileInfo         `json:"file,omitempty"`
}

// ExpenseEditDetails is the payload of an expense_edited entry.
type ExpenseEditDetails struct {
	Before  ExpenseSnapshot        `json:"before"`
	After   ExpenseSnapshot        `json:"after"`
	Changes map[string]FieldChange `json:"changes"`
}

// PaymentDetails is the payload of a payment_added entry.
type PaymentDetails struct {
	PayerID   string          `json:"payerId"`
	PayerName string          `json:"payerName"`
	Amount    decimal.Decimal `json:"amount"`
	TotalPaid decimal.Decimal `json:"totalPaid"`
	Owed      decimal.Decimal `json:"owed"`
}

// MemberDetails is the payload of member_added and member_removed entries.
type MemberDetails struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// GroupSnapshot is the authoritative payload of a group_deleted entry.
type GroupSnapshot struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Currency    string     `json:"currency"`
	Members     []string   `json:"members"`
	MemberNames []string   `json:"memberNames"`
	Expenses    []*Expense `json:"expenses"`
	CreatedAt   int64      `json:"createdAt"`
}
