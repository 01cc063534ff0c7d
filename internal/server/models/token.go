package models

import "time"

// Token is a single-use bearer claim on Worth units of value.
type Token struct {
	ID              string
	Worth           int64
	RevertTag       string
	CreatorUsername string
	CreatedAt       time.Time
}
