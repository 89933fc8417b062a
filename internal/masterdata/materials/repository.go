package materials

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/platform/db"
	"github.com/odyssey-erp/matledger/internal/shared"
)

type Repository interface {
	Create(ctx context.Context, material Material) (Material, error)
	Get(ctx context.Context, key Key) (Material, error)
	List(ctx context.Context, materialType Type, search string) ([]Material, error)
	SetThreshold(ctx context.Context, key Key, threshold decimal.Decimal) error
	ListThresholds(ctx context.Context, materialType Type) ([]ThresholdSetting, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const selectMaterial = `SELECT m.material_type, m.article, m.name, m.unit_id, COALESCE(u.name, ''),
	m.scrap_threshold, m.created_at, m.updated_at
FROM materials m
LEFT JOIN units u ON u.id = m.unit_id`

func (r *repository) Create(ctx context.Context, material Material) (Material, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO materials (material_type, article, name, unit_id, scrap_threshold)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at, updated_at`,
		material.Type, material.Article, material.Name, material.UnitID, material.ScrapThreshold)
	if err := row.Scan(&material.CreatedAt, &material.UpdatedAt); err != nil {
		if db.IsUniqueViolation(err) {
			return Material{}, fmt.Errorf("%w: material %s already exists", shared.ErrValidation, material.Key())
		}
		return Material{}, db.Classify(err)
	}
	return material, nil
}

func (r *repository) Get(ctx context.Context, key Key) (Material, error) {
	row := r.pool.QueryRow(ctx, selectMaterial+` WHERE m.material_type = $1 AND m.article = $2`, key.Type, key.Article)
	material, err := scanMaterial(row)
	if err != nil {
		if db.IsNoRows(err) {
			return Material{}, fmt.Errorf("%w: material %s", shared.ErrNotFound, key)
		}
		return Material{}, db.Classify(err)
	}
	return material, nil
}

func (r *repository) List(ctx context.Context, materialType Type, search string) ([]Material, error) {
	query := selectMaterial + ` WHERE m.material_type = $1`
	args := []any{materialType}
	if s := strings.TrimSpace(search); s != "" {
		query += ` AND (m.article ILIKE $2 OR m.name ILIKE $2)`
		args = append(args, "%"+s+"%")
	}
	query += ` ORDER BY m.article`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var out []Material
	for rows.Next() {
		material, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, material)
	}
	return out, db.Classify(rows.Err())
}

func (r *repository) SetThreshold(ctx context.Context, key Key, threshold decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, `UPDATE materials SET scrap_threshold = $3, updated_at = NOW()
WHERE material_type = $1 AND article = $2`, key.Type, key.Article, threshold)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: material %s", shared.ErrNotFound, key)
	}
	return nil
}

func (r *repository) ListThresholds(ctx context.Context, materialType Type) ([]ThresholdSetting, error) {
	rows, err := r.pool.Query(ctx, `SELECT m.article, m.name, m.scrap_threshold, m.unit_id, COALESCE(u.name, '')
FROM materials m
LEFT JOIN units u ON u.id = m.unit_id
WHERE m.material_type = $1
ORDER BY m.article`, materialType)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var out []ThresholdSetting
	for rows.Next() {
		var setting ThresholdSetting
		if err := rows.Scan(&setting.Article, &setting.Name, &setting.Threshold, &setting.UnitID, &setting.UnitName); err != nil {
			return nil, err
		}
		out = append(out, setting)
	}
	return out, db.Classify(rows.Err())
}

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	err := row.Scan(&m.Type, &m.Article, &m.Name, &m.UnitID, &m.UnitName,
		&m.ScrapThreshold, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}
