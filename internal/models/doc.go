// Package models defines the core domain models for splitledger.
//
// # Models
//
//   - User: registered account; referenced by id everywhere else
//   - Group: members plus the keyed collection of Expenses and a list of Posts
//   - Expense: one cost fronted by a payee and owed by a list of payers
//   - ChangeLogEntry: immutable audit record of one mutating action
//   - Settlement: a suggested transfer that clears part of a balance
//
// # Design Principles
//
//  1. Relationships are ID strings, never pointers between aggregates.
//  2. Money is decimal.Decimal and always carries at most 2 decimal places.
//  3. Timestamps are Unix seconds, except ChangeLogEntry.Timestamp (Unix milliseconds).
//  4. Change-log snapshots (group name, expense name, details) are written once and never rewritten,
//     so deleted groups and expenses stay displayable.
package models
