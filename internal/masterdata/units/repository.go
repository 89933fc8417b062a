package units

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/matledger/internal/platform/db"
	"github.com/odyssey-erp/matledger/internal/shared"
)

// RuleReader is the storage surface the Resolver needs.
type RuleReader interface {
	FindRule(ctx context.Context, key RuleKey) (ConversionRule, error)
}

type Repository interface {
	RuleReader
	ListUnits(ctx context.Context) ([]Unit, error)
	GetUnit(ctx context.Context, id int64) (Unit, error)
	CreateUnit(ctx context.Context, unit Unit) (Unit, error)
	ListRules(ctx context.Context, article string) ([]ConversionRule, error)
	UpsertRule(ctx context.Context, rule ConversionRule) (ConversionRule, error)
	DeleteRule(ctx context.Context, key RuleKey) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) ListUnits(ctx context.Context) ([]Unit, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, default_factor, created_at FROM units ORDER BY code`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.Code, &u.Name, &u.DefaultFactor, &u.CreatedAt); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, db.Classify(rows.Err())
}

func (r *repository) GetUnit(ctx context.Context, id int64) (Unit, error) {
	var u Unit
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, default_factor, created_at FROM units WHERE id = $1`, id).
		Scan(&u.ID, &u.Code, &u.Name, &u.DefaultFactor, &u.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return Unit{}, fmt.Errorf("%w: unit %d", shared.ErrNotFound, id)
		}
		return Unit{}, db.Classify(err)
	}
	return u, nil
}

func (r *repository) CreateUnit(ctx context.Context, unit Unit) (Unit, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO units (code, name, default_factor) VALUES ($1, $2, $3)
RETURNING id, created_at`, unit.Code, unit.Name, unit.DefaultFactor).Scan(&unit.ID, &unit.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Unit{}, fmt.Errorf("%w: unit code %q already exists", shared.ErrValidation, unit.Code)
		}
		return Unit{}, db.Classify(err)
	}
	return unit, nil
}

func (r *repository) FindRule(ctx context.Context, key RuleKey) (ConversionRule, error) {
	rule := ConversionRule{Article: key.Article, FromUnitID: key.FromUnitID, ToUnitID: key.ToUnitID}
	err := r.pool.QueryRow(ctx, `SELECT factor, updated_at FROM unit_conversion_rules
WHERE material_article = $1 AND from_unit_id = $2 AND to_unit_id = $3`,
		key.Article, key.FromUnitID, key.ToUnitID).Scan(&rule.Factor, &rule.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return ConversionRule{}, shared.ErrNotFound
		}
		return ConversionRule{}, db.Classify(err)
	}
	return rule, nil
}

func (r *repository) ListRules(ctx context.Context, article string) ([]ConversionRule, error) {
	rows, err := r.pool.Query(ctx, `SELECT material_article, from_unit_id, to_unit_id, factor, updated_at
FROM unit_conversion_rules WHERE material_article = $1
ORDER BY from_unit_id, to_unit_id`, article)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var rules []ConversionRule
	for rows.Next() {
		var rule ConversionRule
		if err := rows.Scan(&rule.Article, &rule.FromUnitID, &rule.ToUnitID, &rule.Factor, &rule.UpdatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, db.Classify(rows.Err())
}

func (r *repository) UpsertRule(ctx context.Context, rule ConversionRule) (ConversionRule, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO unit_conversion_rules (material_article, from_unit_id, to_unit_id, factor)
VALUES ($1, $2, $3, $4)
ON CONFLICT (material_article, from_unit_id, to_unit_id)
DO UPDATE SET factor = EXCLUDED.factor, updated_at = NOW()
RETURNING updated_at`, rule.Article, rule.FromUnitID, rule.ToUnitID, rule.Factor).Scan(&rule.UpdatedAt)
	if err != nil {
		return ConversionRule{}, db.Classify(err)
	}
	return rule, nil
}

func (r *repository) DeleteRule(ctx context.Context, key RuleKey) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM unit_conversion_rules
WHERE material_article = $1 AND from_unit_id = $2 AND to_unit_id = $3`, key.Article, key.FromUnitID, key.ToUnitID)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: conversion rule", shared.ErrNotFound)
	}
	return nil
}
