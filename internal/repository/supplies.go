package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sawtell/cutshop/internal/domain"
)

const supplyColumns = `id, name, color, reorder_point, reorder_qty, created_at, updated_at`

// SupplyRepository handles supply, location and stock persistence.
type SupplyRepository struct {
	db *sqlx.DB
}

// NewSupplyRepository creates a new SupplyRepository.
func NewSupplyRepository(db *sqlx.DB) *SupplyRepository {
	return &SupplyRepository{db: db}
}

// CreateSupply inserts a supply.
func (r *SupplyRepository) CreateSupply(ctx context.Context, n domain.NewSupply) (*domain.Supply, error) {
	var supply domain.Supply
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO supplies (name, color, reorder_point, reorder_qty)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+supplyColumns,
		n.Name, n.Color, n.ReorderPoint, n.ReorderQty,
	).StructScan(&supply)
	if err != nil {
		return nil, fmt.Errorf("insert supply: %w", err)
	}
	supply.Stock = []domain.SupplyStock{}
	return &supply, nil
}

// GetSupply retrieves a supply with its per-location stock rows.
func (r *SupplyRepository) GetSupply(ctx context.Context, id int64) (*domain.Supply, error) {
	var supply domain.Supply
	err := r.db.GetContext(ctx, &supply,
		`SELECT `+supplyColumns+` FROM supplies WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find supply by id %d: %w", id, err)
	}
	stock := []domain.SupplyStock{}
	err = r.db.SelectContext(ctx, &stock,
		`SELECT supply_id, location_id, on_hand, updated_at
		 FROM supply_stock WHERE supply_id = $1 ORDER BY location_id`, id)
	if err != nil {
		return nil, fmt.Errorf("list stock for supply %d: %w", id, err)
	}
	supply.Stock = stock
	return &supply, nil
}

// ListSupplies retrieves all supplies with their stock rows.
func (r *SupplyRepository) ListSupplies(ctx context.Context) ([]domain.Supply, error) {
	supplies := []domain.Supply{}
	err := r.db.SelectContext(ctx, &supplies,
		`SELECT `+supplyColumns+` FROM supplies ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list supplies: %w", err)
	}
	stock := []domain.SupplyStock{}
	err = r.db.SelectContext(ctx, &stock,
		`SELECT supply_id, location_id, on_hand, updated_at
		 FROM supply_stock ORDER BY supply_id, location_id`)
	if err != nil {
		return nil, fmt.Errorf("list supply stock: %w", err)
	}
	bySupply := make(map[int64]int, len(supplies))
	for i := range supplies {
		supplies[i].Stock = []domain.SupplyStock{}
		bySupply[supplies[i].ID] = i
	}
	for _, s := range stock {
		if i, ok := bySupply[s.SupplyID]; ok {
			supplies[i].Stock = append(supplies[i].Stock, s)
		}
	}
	return supplies, nil
}

// CreateLocation inserts a storage location.
func (r *SupplyRepository) CreateLocation(ctx context.Context, name string) (*domain.Location, error) {
	var loc domain.Location
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO locations (name) VALUES ($1) RETURNING id, name, created_at`, name,
	).StructScan(&loc)
	if err != nil {
		if isPgErr(err, pgUniqueViolation) {
			return nil, fmt.Errorf("location %q taken: %w", name, domain.ErrConflict)
		}
		return nil, fmt.Errorf("insert location: %w", err)
	}
	return &loc, nil
}

// ListLocations retrieves all storage locations.
func (r *SupplyRepository) ListLocations(ctx context.Context) ([]domain.Location, error) {
	locs := []domain.Location{}
	err := r.db.SelectContext(ctx, &locs,
		`SELECT id, name, created_at FROM locations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return locs, nil
}

// ReceiveStock adds qty sheets of a supply at a location, creating the
// stock row on first receipt.
func (r *SupplyRepository) ReceiveStock(ctx context.Context, supplyID, locationID int64, qty int) (*domain.SupplyStock, error) {
	var stock domain.SupplyStock
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO supply_stock (supply_id, location_id, on_hand)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (supply_id, location_id)
		 DO UPDATE SET on_hand = supply_stock.on_hand + EXCLUDED.on_hand,
		               updated_at = NOW()
		 RETURNING supply_id, location_id, on_hand, updated_at`,
		supplyID, locationID, qty,
	).StructScan(&stock)
	if err != nil {
		if isPgErr(err, pgForeignKeyViolation) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("receive stock for supply %d: %w", supplyID, err)
	}
	return &stock, nil
}

// ConsumeStock draws qty sheets of a supply across its locations first-fit,
// locking the stock rows so concurrent draws serialize. When stock cannot
// cover qty nothing is drawn and ErrInsufficientStock is returned.
func (r *SupplyRepository) ConsumeStock(ctx context.Context, supplyID int64, qty int) ([]domain.SupplyStock, error) {
	var updated []domain.SupplyStock
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var id int64
		err := tx.GetContext(ctx, &id, `SELECT id FROM supplies WHERE id = $1`, supplyID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("find supply by id %d: %w", supplyID, err)
		}
		stock := []domain.SupplyStock{}
		err = tx.SelectContext(ctx, &stock,
			`SELECT supply_id, location_id, on_hand, updated_at
			 FROM supply_stock WHERE supply_id = $1
			 ORDER BY location_id
			 FOR UPDATE`, supplyID)
		if err != nil {
			return fmt.Errorf("lock stock for supply %d: %w", supplyID, err)
		}
		next, err := domain.AllocateStock(stock, qty)
		if err != nil {
			return fmt.Errorf("supply %d: %w", supplyID, err)
		}
		for i := range next {
			if next[i].OnHand == stock[i].OnHand {
				continue
			}
			_, err := tx.ExecContext(ctx,
				`UPDATE supply_stock SET on_hand = $3, updated_at = NOW()
				 WHERE supply_id = $1 AND location_id = $2`,
				supplyID, next[i].LocationID, next[i].OnHand)
			if err != nil {
				return fmt.Errorf("draw stock for supply %d: %w", supplyID, err)
			}
			updated = append(updated, next[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Allocations returns, per supply, the sheets still owed to jobs that are
// not yet done: pending counts of every material and recut batch under a
// job that is paused or not derived done.
func (r *SupplyRepository) Allocations(ctx context.Context) (map[int64]int, error) {
	type row struct {
		SupplyID  int64 `db:"supply_id"`
		Remaining int   `db:"remaining"`
	}
	alloc := make(map[int64]int)

	rows := []row{}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT m.supply_id, COALESCE(SUM(m.total_sheets - m.completed_sheets - m.skipped_sheets), 0) AS remaining
		 FROM materials m
		 JOIN cutlists c ON c.id = m.cutlist_id
		 JOIN jobs j ON j.id = c.job_id
		 WHERE j.paused_at IS NOT NULL OR j.derived_status <> $1
		 GROUP BY m.supply_id`,
		domain.StatusDone)
	if err != nil {
		return nil, fmt.Errorf("sum material allocations: %w", err)
	}
	for _, a := range rows {
		alloc[a.SupplyID] += a.Remaining
	}

	rows = rows[:0]
	err = r.db.SelectContext(ctx, &rows,
		`SELECT m.supply_id, COALESCE(SUM(r.quantity - r.completed_sheets - r.skipped_sheets), 0) AS remaining
		 FROM recut_entries r
		 JOIN materials m ON m.id = r.material_id
		 JOIN cutlists c ON c.id = m.cutlist_id
		 JOIN jobs j ON j.id = c.job_id
		 WHERE j.paused_at IS NOT NULL OR j.derived_status <> $1
		 GROUP BY m.supply_id`,
		domain.StatusDone)
	if err != nil {
		return nil, fmt.Errorf("sum recut allocations: %w", err)
	}
	for _, a := range rows {
		alloc[a.SupplyID] += a.Remaining
	}
	return alloc, nil
}
