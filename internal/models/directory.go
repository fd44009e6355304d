package models

import "time"

// Class is the subset of class data the attendance subsystem needs.
type Class struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Student is the subset of student data used by summaries and exports.
type Student struct {
	ID        string `db:"id" json:"id"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
}

// FullName joins first and last name for display.
func (s Student) FullName() string {
	return s.FirstName + " " + s.LastName
}

// Teacher owns sessions and adjustments. PasswordHash backs login and
// is never serialized.
type Teacher struct {
	ID           string     `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	Email        string     `db:"email" json:"email"`
	Phone        *string    `db:"phone" json:"phone,omitempty"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Active       bool       `db:"active" json:"active"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
}
