package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/ingest-gateway/internal/model"
)

// DeliveryFilter narrows a delivery listing. Zero values match everything.
type DeliveryFilter struct {
	EndpointID string
	Topic      string
	Status     model.DeliveryStatus
	Limit      int
	Offset     int
}

// DeliveriesRepository stores publish outcomes in ClickHouse.
type DeliveriesRepository interface {
	InsertBatch(ctx context.Context, ds []model.Delivery) error
	List(ctx context.Context, f DeliveryFilter) ([]model.Delivery, error)
	Get(ctx context.Context, id string) (*model.Delivery, error)
}

type deliveriesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewDeliveriesRepository(ch *sqlx.DB) DeliveriesRepository {
	return &deliveriesRepository{ch: ch}
}

const deliveryColumns = `id, endpoint_id, topic, broker_partition, broker_offset, blocking, status, error, latency_ms, created_at`

// InsertBatch uses the ClickHouse driver's prepared-statement batch: rows are
// buffered by the statement and sent as one block on commit.
func (r *deliveriesRepository) InsertBatch(ctx context.Context, ds []model.Delivery) error {
	if len(ds) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO ingestgw.deliveries (`+deliveryColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, d := range ds {
		if _, err := stmt.ExecContext(ctx,
			d.ID, d.EndpointID, d.Topic, d.Partition, d.Offset, d.Blocking,
			d.Status.String(), d.Error, d.LatencyMs, d.CreatedAt,
		); err != nil {
			return fmt.Errorf("append %s: %w", d.ID, err)
		}
	}

	return tx.Commit()
}

func (r *deliveriesRepository) List(ctx context.Context, f DeliveryFilter) ([]model.Delivery, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `SELECT ` + deliveryColumns + ` FROM ingestgw.deliveries WHERE 1 = 1`
	args := []any{}

	if f.EndpointID != "" {
		q += " AND endpoint_id = ?"
		args = append(args, f.EndpointID)
	}
	if f.Topic != "" {
		q += " AND topic = ?"
		args = append(args, f.Topic)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status.String())
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []model.Delivery
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *deliveriesRepository) Get(ctx context.Context, id string) (*model.Delivery, error) {
	var d model.Delivery
	err := r.ch.GetContext(ctx, &d, `SELECT `+deliveryColumns+` FROM ingestgw.deliveries WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
