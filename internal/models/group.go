package models

import "sort"

// DefaultCurrency is used when a group is created without a currency code.
const DefaultCurrency = "USD"

// Group is a set of members sharing expenses.
// The group exclusively owns its Expenses and Posts.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string `json:"id"`

	// Name is the display name of the group (e.g., "Roommates", "Ski Trip 2025").
	Name string `json:"name"`

	Description string `json:"description"`

	// Currency is an ISO 4217 code. Balances are computed in this currency.
	Currency string `json:"currency"`

	// Members is the ordered list of member user ids. Entries are unique.
	Members []string `json:"members"`

	// Expenses is keyed by expense id.
	Expenses map[string]*Expense `json:"expenses"`

	Posts []Post `json:"posts"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Post is a message pinned to a group's board.
type Post struct {
	ID        string `json:"id"`
	PosterID  string `json:"posterId"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"createdAt"`
}

// HasMember reports whether userID is a member of the group.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// ExpenseList returns the group's expenses ordered by creation time, then id.
func (g *Group) ExpenseList() []*Expense {
	list := make([]*Expense, 0, len(g.Expenses))
	for _, e := range g.Expenses {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt < list[j].CreatedAt
		}
		return list[i].ID < list[j].ID
	})
	return list
}
