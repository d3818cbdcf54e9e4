package model

import "time"

// UserPackage is a grant of prepaid class credits.
//
// Fields:
//
//	ID               – primary key identifier.
//	UserID           – member owning the credits.
//	CreditsPurchased – credits granted at purchase.
//	CreditsRemaining – credits still available (never negative).
//	ExpiresAt        – after this instant no credit may be consumed.
//	CreatedAt        – purchase timestamp.
type UserPackage struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	CreditsPurchased int       `json:"credits_purchased"`
	CreditsRemaining int       `json:"credits_remaining"`
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// Usable reports whether a credit can be drawn from the package at now.
func (p *UserPackage) Usable(now time.Time) bool {
	return p.CreditsRemaining > 0 && now.Before(p.ExpiresAt)
}
