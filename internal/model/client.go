package model

import "time"

type ClientStatus string

const (
	ClientActive    ClientStatus = "active"
	ClientSuspended ClientStatus = "suspended"
)

// APIClient is an upstream service allowed to publish through the gateway.
type APIClient struct {
	ID           int64        `db:"id"`
	Name         string       `db:"name"`
	APIKey       string       `db:"api_key"`
	Status       ClientStatus `db:"status"`         // active|suspended
	RateLimitRPS *int         `db:"rate_limit_rps"` // nullable
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

func (c APIClient) Active() bool { return c.Status == ClientActive }
