package models

import "time"

// LoginTokenTTL bounds how long a magic link stays usable.
const LoginTokenTTL = 24 * time.Hour

// LoginToken grants access to the bookings of Email. It is single use.
type LoginToken struct {
	ID        int64
	Email     string
	Token     string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (t LoginToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t LoginToken) IsUsed() bool {
	return t.UsedAt != nil
}

func (t LoginToken) IsValid(now time.Time) bool {
	return !t.IsUsed() && !t.IsExpired(now)
}
