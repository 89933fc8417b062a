package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/masterdata/materials"
	"github.com/odyssey-erp/matledger/internal/platform/db"
	"github.com/odyssey-erp/matledger/internal/shared"
)

const (
	defaultScrapLogLimit  = 500
	defaultStockCardLimit = 200
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetMaterial(ctx context.Context, key materials.Key) (materials.Material, error)
	GetEntryForUpdate(ctx context.Context, key materials.Key) (LedgerEntry, error)
	ReceiveEntry(ctx context.Context, key materials.Key, qty, cost decimal.Decimal) (LedgerEntry, error)
	UpdateEntry(ctx context.Context, entry LedgerEntry) error
	InsertScrap(ctx context.Context, entry ScrapLogEntry) (ScrapLogEntry, error)
	InsertMovement(ctx context.Context, movement Movement) error
	NextReceiptNumber(ctx context.Context) (string, error)
	InsertReceipt(ctx context.Context, doc ReceiptDocument) (ReceiptDocument, error)
	GetReceiptForUpdate(ctx context.Context, id int64) (ReceiptDocument, error)
	MarkReceiptAccepted(ctx context.Context, id int64, at time.Time) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. Ledger
// rows are locked explicitly by GetEntryForUpdate and by the receive upsert.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (r *Repository) ListScrapLog(ctx context.Context, filter ScrapLogFilter) ([]ScrapLogEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultScrapLogLimit
	}
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.logged_at, s.material_type, s.article, COALESCE(m.name, ''),
	s.quantity, s.cost, s.unit_id, COALESCE(u.name, ''), COALESCE(s.written_off_by, ''), s.reason
FROM scrap_log s
LEFT JOIN materials m ON m.material_type = s.material_type AND m.article = s.article
LEFT JOIN units u ON u.id = s.unit_id
WHERE ($1::timestamptz IS NULL OR s.logged_at >= $1)
  AND ($2::timestamptz IS NULL OR s.logged_at <= $2)
ORDER BY s.logged_at DESC, s.id DESC
LIMIT $3`, filter.From, filter.To, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var entries []ScrapLogEntry
	for rows.Next() {
		var e ScrapLogEntry
		if err := rows.Scan(&e.ID, &e.LoggedAt, &e.MaterialType, &e.Article, &e.MaterialName,
			&e.Quantity, &e.Cost, &e.UnitID, &e.UnitName, &e.Operator, &e.Reason); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, db.Classify(rows.Err())
}

func (r *Repository) StockSnapshot(ctx context.Context, materialType materials.Type) ([]StockRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.article, m.name, l.quantity, l.total_cost, m.unit_id, COALESCE(u.name, '')
FROM ledger_entries l
JOIN materials m ON m.material_type = l.material_type AND m.article = l.article
LEFT JOIN units u ON u.id = m.unit_id
WHERE l.material_type = $1
ORDER BY l.article`, materialType)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var out []StockRow
	for rows.Next() {
		var row StockRow
		if err := rows.Scan(&row.Article, &row.Name, &row.Quantity, &row.TotalCost, &row.UnitID, &row.UnitName); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, db.Classify(rows.Err())
}

func (r *Repository) GetStockCard(ctx context.Context, filter StockCardFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultStockCardLimit
	}
	rows, err := r.pool.Query(ctx, `SELECT id, material_type, article, movement_type, ref, qty_in, qty_out, cost,
	balance_qty, balance_cost, operator, note, posted_at
FROM ledger_movements
WHERE material_type = $1 AND article = $2
  AND ($3::timestamptz IS NULL OR posted_at >= $3)
  AND ($4::timestamptz IS NULL OR posted_at <= $4)
ORDER BY posted_at, id
LIMIT $5`, filter.Key.Type, filter.Key.Article, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.Key.Type, &m.Key.Article, &m.Type, &m.Ref, &m.QtyIn, &m.QtyOut, &m.Cost,
			&m.BalanceQty, &m.BalanceCost, &m.Operator, &m.Note, &m.PostedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, db.Classify(rows.Err())
}

func (r *Repository) GetReceipt(ctx context.Context, id int64) (ReceiptDocument, error) {
	doc, err := loadReceipt(ctx, r.pool, id, false)
	return doc, err
}

// ScanLedgerAnomalies returns rows that break the balance invariants. It never writes.
func (r *Repository) ScanLedgerAnomalies(ctx context.Context) ([]LedgerAnomaly, error) {
	rows, err := r.pool.Query(ctx, `SELECT material_type, article, quantity, total_cost
FROM ledger_entries
WHERE quantity < 0 OR total_cost < 0 OR (quantity = 0 AND total_cost <> 0)
ORDER BY material_type, article`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var out []LedgerAnomaly
	for rows.Next() {
		var a LedgerAnomaly
		if err := rows.Scan(&a.Key.Type, &a.Key.Article, &a.Quantity, &a.TotalCost); err != nil {
			return nil, err
		}
		a.Problem = classifyAnomaly(a.Quantity, a.TotalCost)
		out = append(out, a)
	}
	return out, db.Classify(rows.Err())
}

func (r *txRepo) GetMaterial(ctx context.Context, key materials.Key) (materials.Material, error) {
	var m materials.Material
	err := r.tx.QueryRow(ctx, `SELECT m.material_type, m.article, m.name, m.unit_id, COALESCE(u.name, ''), m.scrap_threshold
FROM materials m
LEFT JOIN units u ON u.id = m.unit_id
WHERE m.material_type = $1 AND m.article = $2`, key.Type, key.Article).
		Scan(&m.Type, &m.Article, &m.Name, &m.UnitID, &m.UnitName, &m.ScrapThreshold)
	if err != nil {
		if db.IsNoRows(err) {
			return materials.Material{}, fmt.Errorf("%w: material %s", shared.ErrNotFound, key)
		}
		return materials.Material{}, db.Classify(err)
	}
	return m, nil
}

func (r *txRepo) GetEntryForUpdate(ctx context.Context, key materials.Key) (LedgerEntry, error) {
	entry := LedgerEntry{Key: key}
	err := r.tx.QueryRow(ctx, `SELECT quantity, total_cost, updated_at FROM ledger_entries
WHERE material_type = $1 AND article = $2
FOR UPDATE`, key.Type, key.Article).Scan(&entry.Quantity, &entry.TotalCost, &entry.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return LedgerEntry{Key: key}, ErrEntryNotFound
		}
		return LedgerEntry{}, db.Classify(err)
	}
	return entry, nil
}

func (r *txRepo) ReceiveEntry(ctx context.Context, key materials.Key, qty, cost decimal.Decimal) (LedgerEntry, error) {
	entry := LedgerEntry{Key: key}
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_entries (material_type, article, quantity, total_cost)
VALUES ($1, $2, $3, $4)
ON CONFLICT (material_type, article) DO UPDATE
SET quantity = ledger_entries.quantity + EXCLUDED.quantity,
    total_cost = ledger_entries.total_cost + EXCLUDED.total_cost,
    updated_at = NOW()
RETURNING quantity, total_cost, updated_at`, key.Type, key.Article, qty, cost).
		Scan(&entry.Quantity, &entry.TotalCost, &entry.UpdatedAt)
	if err != nil {
		return LedgerEntry{}, db.Classify(err)
	}
	return entry, nil
}

func (r *txRepo) UpdateEntry(ctx context.Context, entry LedgerEntry) error {
	tag, err := r.tx.Exec(ctx, `UPDATE ledger_entries SET quantity = $3, total_cost = $4, updated_at = NOW()
WHERE material_type = $1 AND article = $2`, entry.Key.Type, entry.Key.Article, entry.Quantity, entry.TotalCost)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepo) InsertScrap(ctx context.Context, entry ScrapLogEntry) (ScrapLogEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO scrap_log (logged_at, material_type, article, quantity, cost, unit_id, reason, written_off_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
RETURNING id, logged_at`,
		entry.LoggedAt, entry.MaterialType, entry.Article, entry.Quantity, entry.Cost, entry.UnitID, entry.Reason, entry.Operator).
		Scan(&entry.ID, &entry.LoggedAt)
	if err != nil {
		return ScrapLogEntry{}, db.Classify(err)
	}
	return entry, nil
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_movements
	(material_type, article, movement_type, ref, qty_in, qty_out, cost, balance_qty, balance_cost, operator, note, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.Key.Type, m.Key.Article, m.Type, m.Ref, m.QtyIn, m.QtyOut, m.Cost, m.BalanceQty, m.BalanceCost, m.Operator, m.Note, m.PostedAt)
	return db.Classify(err)
}

func (r *txRepo) NextReceiptNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.tx.QueryRow(ctx, `SELECT nextval('receipt_number_seq')`).Scan(&seq); err != nil {
		return "", db.Classify(err)
	}
	return formatReceiptNumber(seq), nil
}

func (r *txRepo) InsertReceipt(ctx context.Context, doc ReceiptDocument) (ReceiptDocument, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO receipts (number, doc_date, total_amount, accepted, accepted_at, created_by, note)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, doc.Number, doc.Date, doc.TotalAmount, doc.Accepted, doc.AcceptedAt, doc.CreatedBy, doc.Note).Scan(&doc.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ReceiptDocument{}, fmt.Errorf("%w: receipt number %q already used", shared.ErrValidation, doc.Number)
		}
		return ReceiptDocument{}, db.Classify(err)
	}

	batch := &pgx.Batch{}
	for _, line := range doc.Lines {
		batch.Queue(`INSERT INTO receipt_lines (receipt_id, material_type, article, quantity, unit_price, total_sum)
VALUES ($1, $2, $3, $4, $5, $6)`, doc.ID, line.MaterialType, line.Article, line.Quantity, line.UnitPrice, line.Total())
	}
	results := r.tx.SendBatch(ctx, batch)
	for range doc.Lines {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return ReceiptDocument{}, db.Classify(err)
		}
	}
	if err := results.Close(); err != nil {
		return ReceiptDocument{}, db.Classify(err)
	}
	return doc, nil
}

func (r *txRepo) GetReceiptForUpdate(ctx context.Context, id int64) (ReceiptDocument, error) {
	return loadReceipt(ctx, r.tx, id, true)
}

func (r *txRepo) MarkReceiptAccepted(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE receipts SET accepted = TRUE, accepted_at = $2 WHERE id = $1 AND NOT accepted`, id, at)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyAccepted
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadReceipt(ctx context.Context, q querier, id int64, lock bool) (ReceiptDocument, error) {
	query := `SELECT id, number, doc_date, total_amount, accepted, accepted_at, created_by, note FROM receipts WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var doc ReceiptDocument
	err := q.QueryRow(ctx, query, id).Scan(&doc.ID, &doc.Number, &doc.Date, &doc.TotalAmount,
		&doc.Accepted, &doc.AcceptedAt, &doc.CreatedBy, &doc.Note)
	if err != nil {
		if db.IsNoRows(err) {
			return ReceiptDocument{}, fmt.Errorf("%w: receipt %d", shared.ErrNotFound, id)
		}
		return ReceiptDocument{}, db.Classify(err)
	}

	rows, err := q.Query(ctx, `SELECT material_type, article, quantity, unit_price FROM receipt_lines
WHERE receipt_id = $1 ORDER BY id`, id)
	if err != nil {
		return ReceiptDocument{}, db.Classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var line ReceiptLine
		if err := rows.Scan(&line.MaterialType, &line.Article, &line.Quantity, &line.UnitPrice); err != nil {
			return ReceiptDocument{}, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	return doc, db.Classify(rows.Err())
}

func formatReceiptNumber(seq int64) string {
	return fmt.Sprintf("RCP-%06d", seq)
}

func classifyAnomaly(quantity, totalCost decimal.Decimal) string {
	switch {
	case quantity.IsNegative():
		return "negative quantity"
	case totalCost.IsNegative():
		return "negative total cost"
	default:
		return "cost without quantity"
	}
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
