package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/matledger/internal/masterdata/materials"
	"github.com/odyssey-erp/matledger/internal/shared"
)

func TestReceiveStockCreatesEntry(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeAccessory, "B", "0")

	id, err := f.svc.ReceiveStock(context.Background(), key.Type, key.Article, dec("50"), dec("5"), ReceiptMeta{Operator: "keeper"})
	require.NoError(t, err)
	require.NotZero(t, id)

	entry := f.repo.entry(key)
	requireDecimal(t, "50", entry.Quantity)
	requireDecimal(t, "250", entry.TotalCost)

	doc := f.repo.receipts[id]
	require.True(t, doc.Accepted)
	require.NotNil(t, doc.AcceptedAt)
	require.Equal(t, "RCP-000001", doc.Number)
	require.Equal(t, "keeper", doc.CreatedBy)
	requireDecimal(t, "250", doc.TotalAmount)
	require.Equal(t, 1, f.metrics.receipts)
}

func TestAcceptReceiptAddsToExistingEntry(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	fabric := f.repo.addMaterial(materials.TypeFabric, "F-1", "0")
	button := f.repo.addMaterial(materials.TypeAccessory, "BTN", "0")
	f.repo.setEntry(fabric, "10", "40")

	doc, err := f.svc.AcceptReceipt(context.Background(), ReceiptDocument{
		Number: "IN-42",
		Date:   time.Date(2024, 2, 10, 15, 30, 0, 0, time.UTC),
		Lines: []ReceiptLine{
			{MaterialType: materials.TypeFabric, Article: "F-1", Quantity: dec("2.5"), UnitPrice: dec("6")},
			{MaterialType: materials.TypeAccessory, Article: "BTN", Quantity: dec("0"), UnitPrice: dec("1")},
			{MaterialType: materials.TypeAccessory, Article: "BTN", Quantity: dec("100"), UnitPrice: dec("0.25")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "IN-42", doc.Number)
	require.Len(t, doc.Lines, 2, "zero-quantity lines are dropped")
	requireDecimal(t, "40", doc.TotalAmount)
	require.Equal(t, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), doc.Date)

	requireDecimal(t, "12.5", f.repo.entry(fabric).Quantity)
	requireDecimal(t, "55", f.repo.entry(fabric).TotalCost)
	requireDecimal(t, "100", f.repo.entry(button).Quantity)
	requireDecimal(t, "25", f.repo.entry(button).TotalCost)
	require.Len(t, f.repo.movements, 2)
	require.Contains(t, f.audit.actions(), "inventory:receipt_accept")
}

func TestAcceptReceiptValidation(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	f.repo.addMaterial(materials.TypeFabric, "F-1", "0")
	ctx := context.Background()

	cases := map[string][]ReceiptLine{
		"no lines":       nil,
		"only zero":      {{MaterialType: materials.TypeFabric, Article: "F-1", Quantity: dec("0"), UnitPrice: dec("1")}},
		"negative qty":   {{MaterialType: materials.TypeFabric, Article: "F-1", Quantity: dec("-1"), UnitPrice: dec("1")}},
		"negative price": {{MaterialType: materials.TypeFabric, Article: "F-1", Quantity: dec("1"), UnitPrice: dec("-1")}},
		"bad type":       {{MaterialType: "wool", Article: "F-1", Quantity: dec("1"), UnitPrice: dec("1")}},
		"no article":     {{MaterialType: materials.TypeFabric, Quantity: dec("1"), UnitPrice: dec("1")}},
	}
	for name, lines := range cases {
		_, err := f.svc.AcceptReceipt(ctx, ReceiptDocument{Lines: lines})
		require.ErrorIs(t, err, shared.ErrValidation, name)
	}
	_, err := f.svc.ReceiveStock(ctx, materials.TypeFabric, "F-1", dec("0"), dec("1"), ReceiptMeta{})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.Zero(t, f.repo.txCount)
}

func TestAcceptReceiptUnknownMaterialRollsBack(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "F-1", "0")

	_, err := f.svc.AcceptReceipt(context.Background(), ReceiptDocument{Lines: []ReceiptLine{
		{MaterialType: materials.TypeFabric, Article: "F-1", Quantity: dec("1"), UnitPrice: dec("1")},
		{MaterialType: materials.TypeFabric, Article: "ghost", Quantity: dec("1"), UnitPrice: dec("1")},
	}})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, f.repo.receipts)
	_, ok := f.repo.entries[key]
	require.False(t, ok)
	require.Zero(t, f.repo.seq)
}

func TestAcceptReceiptMovementFailureRollsBack(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "F-1", "0")
	f.repo.setEntry(key, "5", "5")
	f.repo.failInsertMovement = errors.New("insert failed")

	_, err := f.svc.AcceptReceipt(context.Background(), ReceiptDocument{Lines: []ReceiptLine{
		{MaterialType: materials.TypeFabric, Article: "F-1", Quantity: dec("1"), UnitPrice: dec("1")},
	}})
	require.ErrorIs(t, err, shared.ErrTransaction)
	requireDecimal(t, "5", f.repo.entry(key).Quantity)
	require.Empty(t, f.repo.receipts)
}

func TestAcceptReceiptIdempotency(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "F-1", "0")
	doc := ReceiptDocument{
		IdempotencyKey: "0d6f2a52-6d8f-4c1a-9d7e-3f6f1b2c9a11",
		Lines:          []ReceiptLine{{MaterialType: key.Type, Article: key.Article, Quantity: dec("3"), UnitPrice: dec("2")}},
	}

	_, err := f.svc.AcceptReceipt(context.Background(), doc)
	require.NoError(t, err)
	_, err = f.svc.AcceptReceipt(context.Background(), doc)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	requireDecimal(t, "3", f.repo.entry(key).Quantity)
}

func TestAcceptReceiptReleasesKeyOnFailure(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	doc := ReceiptDocument{
		IdempotencyKey: "retry-me",
		Lines:          []ReceiptLine{{MaterialType: materials.TypeFabric, Article: "later", Quantity: dec("3"), UnitPrice: dec("2")}},
	}

	_, err := f.svc.AcceptReceipt(context.Background(), doc)
	require.ErrorIs(t, err, shared.ErrNotFound)

	f.repo.addMaterial(materials.TypeFabric, "later", "0")
	_, err = f.svc.AcceptReceipt(context.Background(), doc)
	require.NoError(t, err)
}

func TestReceiptDraftLifecycle(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "F-1", "0")
	ctx := context.Background()

	draft, err := f.svc.SaveReceiptDraft(ctx, ReceiptDocument{
		CreatedBy: "manager",
		Lines:     []ReceiptLine{{MaterialType: key.Type, Article: key.Article, Quantity: dec("4"), UnitPrice: dec("2.5")}},
	})
	require.NoError(t, err)
	require.False(t, draft.Accepted)
	_, ok := f.repo.entries[key]
	require.False(t, ok, "drafts never touch the ledger")

	accepter := shared.ContextWithOperator(ctx, shared.Operator{Login: "keeper", Role: "storekeeper"})
	accepted, err := f.svc.AcceptReceiptDraft(accepter, draft.ID)
	require.NoError(t, err)
	require.True(t, accepted.Accepted)
	requireDecimal(t, "4", f.repo.entry(key).Quantity)
	requireDecimal(t, "10", f.repo.entry(key).TotalCost)
	require.Equal(t, "keeper", f.repo.movements[0].Operator)

	_, err = f.svc.AcceptReceiptDraft(accepter, draft.ID)
	require.ErrorIs(t, err, ErrAlreadyAccepted)
	require.ErrorIs(t, err, shared.ErrValidation)
	requireDecimal(t, "4", f.repo.entry(key).Quantity)

	_, err = f.svc.AcceptReceiptDraft(accepter, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)

	stored, err := f.svc.GetReceipt(ctx, draft.ID)
	require.NoError(t, err)
	require.True(t, stored.Accepted)
}

func TestReceiptNumbersAreSequential(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "F-1", "0")
	ctx := context.Background()

	for i, want := range []string{"RCP-000001", "RCP-000002"} {
		doc, err := f.svc.AcceptReceipt(ctx, ReceiptDocument{Lines: []ReceiptLine{
			{MaterialType: key.Type, Article: key.Article, Quantity: dec("1"), UnitPrice: dec("1")},
		}})
		require.NoError(t, err, i)
		require.Equal(t, want, doc.Number)
	}
}

func TestReceiptRejectsUnstorablePrecision(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "F-1", "0")

	_, err := f.svc.ReceiveStock(context.Background(), key.Type, key.Article, dec("0.00001"), dec("5"), ReceiptMeta{})
	require.ErrorIs(t, err, ErrQuantityPrecision)

	_, err = f.svc.AcceptReceipt(context.Background(), ReceiptDocument{
		Lines: []ReceiptLine{{MaterialType: key.Type, Article: key.Article, Quantity: dec("2"), UnitPrice: dec("0.12345")}},
	})
	require.ErrorIs(t, err, ErrPricePrecision)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.SaveReceiptDraft(context.Background(), ReceiptDocument{
		Lines: []ReceiptLine{{MaterialType: key.Type, Article: key.Article, Quantity: dec("1.23456"), UnitPrice: dec("1")}},
	})
	require.ErrorIs(t, err, ErrQuantityPrecision)

	require.Zero(t, f.repo.txCount)
	require.Empty(t, f.repo.receipts)
	require.True(t, f.repo.entry(key).Quantity.IsZero())
}
