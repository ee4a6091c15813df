package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/stockledger/internal/domain"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgUniqueViolation = "23505"

	constraintProductCode    = "uq_products_code"
	constraintIdempotencyKey = "uq_ledger_entries_idempotency_key"
)

const productColumns = `id, code, name, spec, unit, unit_price::text, unit_weight::text,
	reorder_point, active, version, created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string, maxConns int32) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// Begin opens a READ COMMITTED transaction. The conditional stock head update
// re-reads the latest committed row, so a concurrent winner makes it match
// zero rows instead of raising a serialization failure.
func (s *Postgres) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	return &pgUnitOfWork{tx: tx}, nil
}

func (s *Postgres) GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	return getProduct(ctx, s.pool, id)
}

func (s *Postgres) GetStockHead(ctx context.Context, productID uuid.UUID) (domain.StockHead, error) {
	return getStockHead(ctx, s.pool, productID)
}

func (s *Postgres) SumByBucket(ctx context.Context, productID uuid.UUID) (domain.StockLevel, error) {
	return sumByBucket(ctx, s.pool, productID)
}

func (s *Postgres) ListEntries(ctx context.Context, productID uuid.UUID, filter EntryFilter, limit, offset int) ([]domain.LedgerEntry, int64, error) {
	where := []string{"product_id = $1"}
	args := []any{productID}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, "type = $"+strconv.Itoa(len(args)))
	}
	if filter.Bucket != "" {
		args = append(args, string(filter.Bucket))
		where = append(where, "bucket = $"+strconv.Itoa(len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_entries WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	// LIMIT NULL means no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}
	args = append(args, lim, max(offset, 0))
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, type, bucket, qty_delta, reason, idempotency_key, occurred_at
		FROM ledger_entries WHERE `+cond+`
		ORDER BY occurred_at DESC, seq DESC
		LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		var (
			e      domain.LedgerEntry
			reason *string
			key    *string
		)
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Type, &e.Bucket, &e.Delta, &reason, &key, &e.OccurredAt); err != nil {
			return nil, 0, fmt.Errorf("scan entry: %w", err)
		}
		e.Reason = deref(reason)
		e.IdempotencyKey = deref(key)
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func (s *Postgres) StockBreakdowns(ctx context.Context, filter BreakdownFilter) ([]Breakdown, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeInactive {
		where = append(where, "p.active")
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		where = append(where, "(p.code ILIKE $1 OR p.name ILIKE $1 OR p.spec ILIKE $1)")
	}
	cond := ""
	if len(where) > 0 {
		cond = "WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.code, p.name, p.spec, p.unit, p.unit_price::text, p.unit_weight::text,
			p.reorder_point, p.active, p.version, p.created_at, p.updated_at,
			COALESCE(s.on_hand, 0), COALESCE(s.reserved_total, 0),
			COALESCE(s.reserved_pending_return, 0), COALESCE(s.reserved_pending_order, 0)
		FROM products p
		LEFT JOIN (
			SELECT product_id,
				SUM(qty_delta) FILTER (WHERE bucket = 'ON_HAND')::bigint AS on_hand,
				SUM(qty_delta) FILTER (WHERE bucket = 'RESERVED')::bigint AS reserved_total,
				SUM(qty_delta) FILTER (WHERE bucket = 'RESERVED' AND reason = 'RETURN_PENDING')::bigint AS reserved_pending_return,
				SUM(qty_delta) FILTER (WHERE bucket = 'RESERVED' AND reason = 'ORDER_PENDING_SHIPMENT')::bigint AS reserved_pending_order
			FROM ledger_entries
			GROUP BY product_id
		) s ON s.product_id = p.id
		`+cond+`
		ORDER BY p.code`, args...)
	if err != nil {
		return nil, fmt.Errorf("stock breakdown query: %w", err)
	}
	defer rows.Close()

	out := make([]Breakdown, 0)
	for rows.Next() {
		var (
			b      Breakdown
			price  string
			weight *string
		)
		p := &b.Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Spec, &p.Unit, &price, &weight,
			&p.ReorderPoint, &p.Active, &p.Version, &p.CreatedAt, &p.UpdatedAt,
			&b.OnHand, &b.ReservedTotal, &b.ReservedPendingReturn, &b.ReservedPendingOrder); err != nil {
			return nil, fmt.Errorf("scan breakdown: %w", err)
		}
		if err := parseMoney(p, price, weight); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type pgUnitOfWork struct {
	tx pgx.Tx
}

func (u *pgUnitOfWork) GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	return getProduct(ctx, u.tx, id)
}

func (u *pgUnitOfWork) GetStockHead(ctx context.Context, productID uuid.UUID) (domain.StockHead, error) {
	return getStockHead(ctx, u.tx, productID)
}

func (u *pgUnitOfWork) SumByBucket(ctx context.Context, productID uuid.UUID) (domain.StockLevel, error) {
	return sumByBucket(ctx, u.tx, productID)
}

func (u *pgUnitOfWork) BumpStockHead(ctx context.Context, productID uuid.UUID, expected int64, at time.Time) (bool, error) {
	tag, err := u.tx.Exec(ctx,
		"UPDATE stock_heads SET version = $3, updated_at = $4 WHERE product_id = $1 AND version = $2",
		productID, expected, expected+1, at)
	if err != nil {
		return false, fmt.Errorf("stock head update failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (u *pgUnitOfWork) AppendEntries(ctx context.Context, entries []domain.LedgerEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO ledger_entries (id, product_id, type, bucket, qty_delta, reason, idempotency_key, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.ProductID, string(e.Type), string(e.Bucket), e.Delta,
			nullable(e.Reason), nullable(e.IdempotencyKey), e.OccurredAt,
		)
	}

	br := u.tx.SendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return mapWriteError(err, "ledger entry insert failed")
		}
	}
	if err := br.Close(); err != nil {
		return mapWriteError(err, "ledger entry insert failed")
	}
	return nil
}

func (u *pgUnitOfWork) InsertProduct(ctx context.Context, p domain.Product) error {
	_, err := u.tx.Exec(ctx,
		`INSERT INTO products (id, code, name, spec, unit, unit_price, unit_weight, reorder_point, active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $11, $12)`,
		p.ID, p.Code, p.Name, p.Spec, p.Unit, p.UnitPrice.String(), decimalText(p.UnitWeight),
		p.ReorderPoint, p.Active, p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return mapWriteError(err, "product insert failed")
	}

	_, err = u.tx.Exec(ctx,
		"INSERT INTO stock_heads (product_id, version, updated_at) VALUES ($1, 0, $2)",
		p.ID, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("stock head insert failed: %w", err)
	}
	return nil
}

func (u *pgUnitOfWork) UpdateProduct(ctx context.Context, p domain.Product, expected int64) (bool, error) {
	tag, err := u.tx.Exec(ctx,
		`UPDATE products SET code = $3, name = $4, spec = $5, unit = $6, unit_price = $7::numeric,
			unit_weight = $8::numeric, reorder_point = $9, active = $10, version = $11, updated_at = $12
		WHERE id = $1 AND version = $2`,
		p.ID, expected, p.Code, p.Name, p.Spec, p.Unit, p.UnitPrice.String(), decimalText(p.UnitWeight),
		p.ReorderPoint, p.Active, p.Version, p.UpdatedAt)
	if err != nil {
		return false, mapWriteError(err, "product update failed")
	}
	return tag.RowsAffected() == 1, nil
}

func (u *pgUnitOfWork) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		return mapWriteError(err, "tx commit failed")
	}
	return nil
}

func (u *pgUnitOfWork) Rollback(ctx context.Context) error {
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func getProduct(ctx context.Context, q querier, id uuid.UUID) (domain.Product, error) {
	var (
		p      domain.Product
		price  string
		weight *string
	)
	err := q.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id).
		Scan(&p.ID, &p.Code, &p.Name, &p.Spec, &p.Unit, &price, &weight,
			&p.ReorderPoint, &p.Active, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, ErrNotFound
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("product lookup failed: %w", err)
	}
	if err := parseMoney(&p, price, weight); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func getStockHead(ctx context.Context, q querier, productID uuid.UUID) (domain.StockHead, error) {
	var h domain.StockHead
	err := q.QueryRow(ctx,
		"SELECT product_id, version, updated_at FROM stock_heads WHERE product_id = $1", productID).
		Scan(&h.ProductID, &h.Version, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StockHead{}, ErrNotFound
	}
	if err != nil {
		return domain.StockHead{}, fmt.Errorf("stock head lookup failed: %w", err)
	}
	return h, nil
}

func sumByBucket(ctx context.Context, q querier, productID uuid.UUID) (domain.StockLevel, error) {
	rows, err := q.Query(ctx,
		"SELECT bucket, COALESCE(SUM(qty_delta), 0)::bigint FROM ledger_entries WHERE product_id = $1 GROUP BY bucket",
		productID)
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("bucket sum query failed: %w", err)
	}
	defer rows.Close()

	var onHand, reserved int64
	for rows.Next() {
		var (
			bucket string
			total  int64
		)
		if err := rows.Scan(&bucket, &total); err != nil {
			return domain.StockLevel{}, fmt.Errorf("scan bucket sum: %w", err)
		}
		switch domain.Bucket(bucket) {
		case domain.BucketOnHand:
			onHand = total
		case domain.BucketReserved:
			reserved = total
		}
	}
	if err := rows.Err(); err != nil {
		return domain.StockLevel{}, err
	}
	return domain.NewStockLevel(onHand, reserved), nil
}

func mapWriteError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case constraintIdempotencyKey:
			return ErrDuplicateIdempotencyKey
		case constraintProductCode:
			return ErrDuplicateCode
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func parseMoney(p *domain.Product, price string, weight *string) error {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return fmt.Errorf("parse unit_price %q: %w", price, err)
	}
	p.UnitPrice = d
	if weight != nil {
		w, err := decimal.NewFromString(*weight)
		if err != nil {
			return fmt.Errorf("parse unit_weight %q: %w", *weight, err)
		}
		p.UnitWeight = &w
	}
	return nil
}

func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
