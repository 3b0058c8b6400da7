package service

import (
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Empty is the request or response of calls that carry nothing.
type Empty struct{}

// Auth

type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

type UserResponse struct {
	User *models.User `json:"user"`
}

// Account

type UpdateProfileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type SummaryRequest struct {
	// Currency of the totals; empty means USD.
	Currency string `json:"currency"`
}

// Groups

type GroupRequest struct {
	GroupID string `json:"groupId"`
}

type CreateGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Currency    string `json:"currency"`
}

type UpdateGroupRequest struct {
	GroupID     string `json:"groupId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Currency    string `json:"currency"`
}

type GroupResponse struct {
	Group *models.Group `json:"group"`
}

type ListGroupsResponse struct {
	Groups []*models.Group `json:"groups"`
}

type AddMemberRequest struct {
	GroupID  string `json:"groupId"`
	Username string `json:"username"`
}

type RemoveMemberRequest struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

type DeleteGroupResponse struct {
	Deleted bool `json:"deleted"`
}

type BalancesRequest struct {
	GroupID string `json:"groupId"`
	// Currency converts the result when set and different from the group's.
	Currency string `json:"currency"`
}

type BalancesResponse struct {
	Currency    string                     `json:"currency"`
	Balances    calculator.Balances        `json:"balances"`
	Members     []calculator.MemberBalance `json:"members"`
	Settlements []models.Settlement        `json:"settlements"`
}

type UpdateResultResponse struct {
	Result storage.UpdateResult `json:"result"`
}

type AddPostRequest struct {
	GroupID string `json:"groupId"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

type DeletePostRequest struct {
	GroupID string `json:"groupId"`
	PostID  string `json:"postId"`
}

type PostResponse struct {
	Post *models.Post `json:"post"`
}

// Expenses

type PayerAmountInput struct {
	PayerID string `json:"payerId"`
	Amount  any    `json:"amount"`
}

// ExpenseFields are the editable fields of an expense. Cost, Deadline and amounts
// keep the type the client sent so validation can report type errors.
type ExpenseFields struct {
	Name             string                  `json:"name"`
	Cost             any                     `json:"cost"`
	Deadline         any                     `json:"deadline"`
	Payee            string                  `json:"payee"`
	Payers           []string                `json:"payers"`
	DistributionType models.DistributionType `json:"distributionType"`
	PayerAmounts     []PayerAmountInput      `json:"payerAmounts"`
	File             *models.FileInfo        `json:"file"`
}

type CreateExpenseRequest struct {
	GroupID string `json:"groupId"`
	ExpenseFields
}

type EditExpenseRequest struct {
	GroupID   string `json:"groupId"`
	ExpenseID string `json:"expenseId"`
	ExpenseFields
}

type ExpenseRequest struct {
	GroupID   string `json:"groupId"`
	ExpenseID string `json:"expenseId"`
}

type AddPaymentRequest struct {
	GroupID   string `json:"groupId"`
	ExpenseID string `json:"expenseId"`
	// PayerID defaults to the caller.
	PayerID string `json:"payerId"`
	Amount  any    `json:"amount"`
}

type ExpenseResponse struct {
	Expense *models.Expense `json:"expense"`
}

type ListExpensesRequest struct {
	GroupID         string `json:"groupId"`
	IncludeArchived bool   `json:"includeArchived"`
}

type ListExpensesResponse struct {
	Expenses []*models.Expense `json:"expenses"`
}

type SearchExpensesRequest struct {
	GroupID  string `json:"groupId"`
	Text     string `json:"text"`
	PayeeID  string `json:"payeeId"`
	PayerID  string `json:"payerId"`
	From     string `json:"from"`
	To       string `json:"to"`
	Archived *bool  `json:"archived"`
	MinCost  any    `json:"minCost"`
	MaxCost  any    `json:"maxCost"`
	Sort     string `json:"sort"`
}

// Activity

type ListChangeLogsRequest struct {
	GroupStatus models.GroupStatus `json:"groupStatus"`
	Type        models.EntityType  `json:"type"`
	GroupID     string             `json:"groupId"`
	ExpenseID   string             `json:"expenseId"`
	Action      string             `json:"action"`
}

type ChangeLogsResponse struct {
	Entries []*models.ChangeLogEntry `json:"entries"`
}
