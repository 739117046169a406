package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"planning-board/internal/order/domain"
)

const orderColumns = `id, order_number, work_centre_id, position, status, priority, quantity, due_date, updated_at`

// PostgresRepository persists orders and work centres with database/sql over the pgx driver.
type PostgresRepository struct {
	db   *sql.DB
	nowF func() time.Time
}

// NewPostgresRepository returns an order repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, nowF: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o       domain.Order
		status  string
		dueDate sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.WorkCentreID, &o.Position, &status,
		&o.Priority, &o.Quantity, &dueDate, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	if dueDate.Valid {
		d := dueDate.Time
		o.DueDate = &d
	}
	return &o, nil
}

// FindOrder returns the order for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) FindOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

// FindWorkCentre returns the work centre for id, or nil if not found.
func (r *PostgresRepository) FindWorkCentre(ctx context.Context, id string) (*domain.WorkCentre, error) {
	var wc domain.WorkCentre
	err := r.db.QueryRowContext(ctx,
		`SELECT id, code, name, active FROM work_centres WHERE id = $1`, id,
	).Scan(&wc.ID, &wc.Code, &wc.Name, &wc.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &wc, nil
}

// ListWorkCentres returns all work centres ordered by code.
func (r *PostgresRepository) ListWorkCentres(ctx context.Context) ([]*domain.WorkCentre, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, code, name, active FROM work_centres ORDER BY code, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.WorkCentre
	for rows.Next() {
		var wc domain.WorkCentre
		if err := rows.Scan(&wc.ID, &wc.Code, &wc.Name, &wc.Active); err != nil {
			return nil, err
		}
		out = append(out, &wc)
	}
	return out, rows.Err()
}

// ListOrdersInWorkCentre returns the active orders of the work centre sorted by (position, id).
func (r *PostgresRepository) ListOrdersInWorkCentre(ctx context.Context, workCentreID string) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE work_centre_id = $1 AND status NOT IN ('completed', 'cancelled')
		 ORDER BY position, id`, workCentreID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updatePlacement(ctx context.Context, ex execer, p domain.OrderPosition, now time.Time) error {
	res, err := ex.ExecContext(ctx,
		`UPDATE orders SET work_centre_id = $2, position = $3, updated_at = $4 WHERE id = $1`,
		p.OrderID, p.WorkCentreID, p.Position, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, p.OrderID)
	}
	return nil
}

// UpdateOrderWorkCentreAndPosition writes a single placement.
func (r *PostgresRepository) UpdateOrderWorkCentreAndPosition(ctx context.Context, orderID, workCentreID string, position int) error {
	return updatePlacement(ctx, r.db, domain.OrderPosition{
		OrderID: orderID, WorkCentreID: workCentreID, Position: position,
	}, r.nowF().UTC())
}

// ApplyPositions writes every placement in a single transaction. Any failure rolls back the whole batch.
func (r *PostgresRepository) ApplyPositions(ctx context.Context, positions []domain.OrderPosition) error {
	if len(positions) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := r.nowF().UTC()
	for _, p := range positions {
		if err := updatePlacement(ctx, tx, p, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateOrderStatus sets the order status and returns the updated order, or nil if not found.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1 RETURNING `+orderColumns,
		orderID, string(status), r.nowF().UTC())
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

// CreateWorkCentre inserts the work centre. The ID must be set by the caller.
func (r *PostgresRepository) CreateWorkCentre(ctx context.Context, wc *domain.WorkCentre) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO work_centres (id, code, name, active) VALUES ($1, $2, $3, $4)`,
		wc.ID, wc.Code, wc.Name, wc.Active)
	return err
}

// CreateOrder validates and inserts the order. The ID must be set by the caller.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *domain.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = r.nowF().UTC()
	}
	var dueDate sql.NullTime
	if o.DueDate != nil {
		dueDate = sql.NullTime{Time: *o.DueDate, Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.OrderNumber, o.WorkCentreID, o.Position, string(o.Status),
		o.Priority, o.Quantity, dueDate, o.UpdatedAt)
	return err
}
