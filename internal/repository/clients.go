package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/ingest-gateway/internal/config"
	"github.com/jmehdipour/ingest-gateway/internal/model"
)

// ClientsRepository resolves API keys to the clients allowed to publish.
// A nil client with a nil error means the key is unknown.
type ClientsRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.APIClient, error)
}

type ClientsRepositoryImpl struct {
	db *sqlx.DB
}

func NewClientsRepository(db *sqlx.DB) *ClientsRepositoryImpl {
	return &ClientsRepositoryImpl{db: db}
}

var _ ClientsRepository = (*ClientsRepositoryImpl)(nil)

func (r *ClientsRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.APIClient, error) {
	var c model.APIClient
	err := r.db.GetContext(ctx, &c, `
		SELECT id, name, api_key, status, rate_limit_rps, created_at, updated_at
		  FROM api_clients
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert inserts or updates clients keyed by api_key in one transaction.
func (r *ClientsRepositoryImpl) Upsert(ctx context.Context, clients []model.APIClient) error {
	const q = `
INSERT INTO api_clients
    (name, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name           = VALUES(name),
    status         = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at     = VALUES(updated_at)
`
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, c := range clients {
		if _, err := tx.ExecContext(ctx, q, c.Name, c.APIKey, c.Status, c.RateLimitRPS, now, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// StaticClients serves API keys listed in the config file.
type StaticClients struct {
	byKey map[string]model.APIClient
}

var _ ClientsRepository = (*StaticClients)(nil)

func NewStaticClients(keys []config.StaticKeyConfig) *StaticClients {
	m := make(map[string]model.APIClient, len(keys))
	for i, k := range keys {
		if k.Key == "" {
			continue
		}
		c := model.APIClient{
			ID:     int64(i + 1),
			Name:   k.Name,
			APIKey: k.Key,
			Status: model.ClientActive,
		}
		if k.RateLimitRPS > 0 {
			rps := k.RateLimitRPS
			c.RateLimitRPS = &rps
		}
		m[k.Key] = c
	}
	return &StaticClients{byKey: m}
}

func (s *StaticClients) GetByAPIKey(_ context.Context, apiKey string) (*model.APIClient, error) {
	c, ok := s.byKey[apiKey]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
