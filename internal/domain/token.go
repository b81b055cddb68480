package domain

import "time"

// AccessToken is one issued GDS client-credentials token. Rows are never
// updated: a refresh inserts a new row that supersedes the previous one.
type AccessToken struct {
	ID        int64
	Token     string
	TokenType string
	Scope     string
	ExpiresIn int
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ValidAt reports whether the token can still be trusted at now, keeping
// margin in reserve before the real expiry.
func (t *AccessToken) ValidAt(now time.Time, margin time.Duration) bool {
	if t == nil || t.Token == "" {
		return false
	}
	return t.ExpiresAt.After(now.Add(margin))
}
