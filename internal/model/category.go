// Package model defines the core data structures for the tally application.
package model

import "time"

// Category represents a spending or income category a rule can assign.
type Category struct {
	CreatedAt time.Time `json:"created_at"`
	Name      string    `json:"name"`
	GroupName string    `json:"group_name"`
	ID        int       `json:"id"`
	IsIncome  bool      `json:"is_income"`
}
