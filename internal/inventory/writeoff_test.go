package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/matledger/internal/masterdata/materials"
	"github.com/odyssey-erp/matledger/internal/shared"
)

type fixture struct {
	repo    *memoryRepo
	audit   *auditSpy
	metrics *metricsSpy
	svc     *Service
}

func newFixture(policy CostPolicy) *fixture {
	repo := newMemoryRepo()
	audit := &auditSpy{}
	metrics := &metricsSpy{}
	clock := newStepClock()
	svc := NewService(repo, audit, newMemoryIdempotency(), ServiceConfig{
		CostPolicy: policy,
		Metrics:    metrics,
		Now:        clock.Now,
	})
	return &fixture{repo: repo, audit: audit, metrics: metrics, svc: svc}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func TestWriteOffAboveThresholdKeepsStock(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "10")
	f.repo.setEntry(key, "100", "500")

	result, err := f.svc.WriteOff(context.Background(), key, dec("5"), "keeper")
	require.NoError(t, err)
	require.Nil(t, result.Scrap)
	requireDecimal(t, "95", result.Remaining)

	entry := f.repo.entry(key)
	requireDecimal(t, "95", entry.Quantity)
	requireDecimal(t, "475", entry.TotalCost)
	require.Empty(t, f.repo.scraps)
}

func TestWriteOffAtOrBelowThresholdScrapsRemainder(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "10")
	f.repo.setEntry(key, "12", "60")

	result, err := f.svc.WriteOff(context.Background(), key, dec("5"), "keeper")
	require.NoError(t, err)
	require.NotNil(t, result.Scrap)
	requireDecimal(t, "7", result.Scrap.Quantity)
	requireDecimal(t, "35", result.Scrap.Cost)
	require.Equal(t, ScrapReasonAuto, result.Scrap.Reason)
	require.Equal(t, "keeper", result.Scrap.Operator)
	require.EqualValues(t, 1, result.Scrap.UnitID)
	requireDecimal(t, "0", result.Remaining)

	entry := f.repo.entry(key)
	require.True(t, entry.Quantity.IsZero())
	require.True(t, entry.TotalCost.IsZero())
	require.Len(t, f.repo.scraps, 1)
	require.Equal(t, 1, f.metrics.scraps["auto"])
	require.Contains(t, f.audit.actions(), "inventory:scrap")
}

func TestWriteOffLegacyPolicyKeepsCost(t *testing.T) {
	f := newFixture(CostPolicyLegacy)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "10")
	f.repo.setEntry(key, "12", "60")

	result, err := f.svc.WriteOff(context.Background(), key, dec("5"), "keeper")
	require.NoError(t, err)
	require.NotNil(t, result.Scrap)
	requireDecimal(t, "7", result.Scrap.Quantity)
	requireDecimal(t, "60", result.Scrap.Cost)
	require.True(t, f.repo.entry(key).TotalCost.IsZero())
}

func TestChainedWriteOffsDivergeByPolicy(t *testing.T) {
	run := func(policy CostPolicy) (LedgerEntry, ScrapLogEntry) {
		f := newFixture(policy)
		key := f.repo.addMaterial(materials.TypeAccessory, "BTN", "10")
		f.repo.setEntry(key, "100", "500")
		ctx := context.Background()

		_, err := f.svc.WriteOff(ctx, key, dec("50"), "keeper")
		require.NoError(t, err)
		afterFirst := f.repo.entry(key)

		result, err := f.svc.WriteOff(ctx, key, dec("42"), "keeper")
		require.NoError(t, err)
		require.NotNil(t, result.Scrap)
		return afterFirst, *result.Scrap
	}

	entry, scrap := run(CostPolicyProportional)
	requireDecimal(t, "50", entry.Quantity)
	requireDecimal(t, "250", entry.TotalCost)
	requireDecimal(t, "5", entry.AverageCost())
	requireDecimal(t, "8", scrap.Quantity)
	requireDecimal(t, "40", scrap.Cost)

	entry, scrap = run(CostPolicyLegacy)
	requireDecimal(t, "50", entry.Quantity)
	requireDecimal(t, "500", entry.TotalCost)
	requireDecimal(t, "10", entry.AverageCost())
	requireDecimal(t, "8", scrap.Quantity)
	requireDecimal(t, "500", scrap.Cost)
}

func TestWriteOffExactThresholdBoundaryScraps(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "10")
	f.repo.setEntry(key, "15", "30")

	result, err := f.svc.WriteOff(context.Background(), key, dec("5"), "")
	require.NoError(t, err)
	require.NotNil(t, result.Scrap)
	requireDecimal(t, "10", result.Scrap.Quantity)
	requireDecimal(t, "20", result.Scrap.Cost)
}

func TestWriteOffZeroThresholdNeverScraps(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "0")
	f.repo.setEntry(key, "12", "60")

	result, err := f.svc.WriteOff(context.Background(), key, dec("11.5"), "keeper")
	require.NoError(t, err)
	require.Nil(t, result.Scrap)
	requireDecimal(t, "0.5", f.repo.entry(key).Quantity)
	requireDecimal(t, "2.5", f.repo.entry(key).TotalCost)
	require.Empty(t, f.repo.scraps)
}

func TestWriteOffToZeroDoesNotScrap(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "10")
	f.repo.setEntry(key, "12", "60")

	result, err := f.svc.WriteOff(context.Background(), key, dec("12"), "keeper")
	require.NoError(t, err)
	require.Nil(t, result.Scrap)
	require.True(t, f.repo.entry(key).Quantity.IsZero())
	require.True(t, f.repo.entry(key).TotalCost.IsZero())
	require.Empty(t, f.repo.scraps)
}

func TestWriteOffInsufficientStockLeavesLedgerUnchanged(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "10")
	f.repo.setEntry(key, "12", "60")

	_, err := f.svc.WriteOff(context.Background(), key, dec("13"), "keeper")
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	requireDecimal(t, "12", f.repo.entry(key).Quantity)
	requireDecimal(t, "60", f.repo.entry(key).TotalCost)
	require.Empty(t, f.repo.scraps)
	require.Empty(t, f.repo.movements)
	require.Empty(t, f.audit.actions())
}

func TestWriteOffWithoutEntry(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "10")

	_, err := f.svc.WriteOff(context.Background(), key, dec("1"), "keeper")
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	_, err = f.svc.WriteOff(context.Background(), materials.Key{Type: materials.TypeFabric, Article: "ghost"}, dec("1"), "keeper")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestWriteOffValidatesBeforeStorage(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "10")
	ctx := context.Background()

	for _, qty := range []string{"0", "-1"} {
		_, err := f.svc.WriteOff(ctx, key, dec(qty), "keeper")
		require.ErrorIs(t, err, shared.ErrValidation)
	}
	_, err := f.svc.WriteOff(ctx, materials.Key{Type: "wool", Article: "A"}, dec("1"), "keeper")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.WriteOffStock(ctx, " ", materials.TypeFabric, dec("1"), "keeper")
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, f.repo.txCount)
}

func TestScrapFailureRollsBackDecrement(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "10")
	f.repo.setEntry(key, "12", "60")
	f.repo.failInsertScrap = errors.New("disk full")

	_, err := f.svc.WriteOff(context.Background(), key, dec("5"), "keeper")
	require.ErrorIs(t, err, shared.ErrTransaction)
	requireDecimal(t, "12", f.repo.entry(key).Quantity)
	requireDecimal(t, "60", f.repo.entry(key).TotalCost)
	require.Empty(t, f.repo.scraps)
	require.Empty(t, f.repo.movements)
	require.Zero(t, f.metrics.writeOffs)
}

func TestWriteOffSurfacesConnectivity(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "10")
	f.repo.failWithTx = fmt.Errorf("%w: dial tcp: refused", shared.ErrConnectivity)

	_, err := f.svc.WriteOff(context.Background(), key, dec("1"), "keeper")
	require.ErrorIs(t, err, shared.ErrConnectivity)
	require.NotErrorIs(t, err, shared.ErrTransaction)
}

func TestWriteOffOperatorFromContext(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "10")
	f.repo.setEntry(key, "12", "60")
	ctx := shared.ContextWithOperator(context.Background(), shared.Operator{Login: "ivan", Role: "storekeeper"})

	result, err := f.svc.WriteOff(ctx, key, dec("5"), "")
	require.NoError(t, err)
	require.Equal(t, "ivan", result.Scrap.Operator)
	require.Equal(t, "ivan", f.repo.movements[0].Operator)
}

func TestWriteOffPostsStockCard(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "10")
	f.repo.setEntry(key, "12", "60")

	_, err := f.svc.WriteOff(context.Background(), key, dec("5"), "keeper")
	require.NoError(t, err)

	card, err := f.svc.GetStockCard(context.Background(), StockCardFilter{Key: key})
	require.NoError(t, err)
	require.Len(t, card, 2)
	require.Equal(t, MovementWriteOff, card[0].Type)
	requireDecimal(t, "5", card[0].QtyOut)
	requireDecimal(t, "25", card[0].Cost)
	requireDecimal(t, "7", card[0].BalanceQty)
	require.Equal(t, MovementScrap, card[1].Type)
	requireDecimal(t, "7", card[1].QtyOut)
	requireDecimal(t, "0", card[1].BalanceQty)
}

func TestConcurrentWriteOffsSerialise(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "0")
	f.repo.setEntry(key, "20", "100")

	const workers = 25
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.WriteOff(context.Background(), key, dec("1"), "keeper")
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var ok, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, shared.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 20, ok)
	require.Equal(t, 5, insufficient)
	require.True(t, f.repo.entry(key).Quantity.IsZero())
	require.True(t, f.repo.entry(key).TotalCost.IsZero())

	seen := make(map[string]int)
	for _, q := range f.repo.observed {
		if q.IsPositive() {
			seen[q.String()]++
		}
	}
	require.Len(t, seen, 20)
	for qty, n := range seen {
		require.Equal(t, 1, n, "quantity %s observed by more than one write-off", qty)
	}
}

func TestConsumeForProductionIsAllOrNothing(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	fabric := f.repo.addMaterial(materials.TypeFabric, "F-1", "0")
	button := f.repo.addMaterial(materials.TypeAccessory, "BTN", "0")
	f.repo.setEntry(fabric, "10", "100")
	f.repo.setEntry(button, "3", "3")

	_, err := f.svc.ConsumeForProduction(context.Background(), "PO-7", []ConsumptionLine{
		{Key: fabric, Quantity: dec("4")},
		{Key: button, Quantity: dec("5")},
	}, "keeper")
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	requireDecimal(t, "10", f.repo.entry(fabric).Quantity)
	requireDecimal(t, "3", f.repo.entry(button).Quantity)
	require.Empty(t, f.repo.movements)
}

func TestConsumeForProductionMergesAndScraps(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	fabric := f.repo.addMaterial(materials.TypeFabric, "F-1", "2")
	button := f.repo.addMaterial(materials.TypeAccessory, "BTN", "0")
	f.repo.setEntry(fabric, "10", "100")
	f.repo.setEntry(button, "30", "3")

	results, err := f.svc.ConsumeForProduction(context.Background(), "PO-8", []ConsumptionLine{
		{Key: fabric, Quantity: dec("4")},
		{Key: button, Quantity: dec("6")},
		{Key: fabric, Quantity: dec("4")},
	}, "keeper")
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, button, results[0].Key)
	requireDecimal(t, "24", results[0].Remaining)
	require.Equal(t, fabric, results[1].Key)
	requireDecimal(t, "8", results[1].Quantity)
	require.NotNil(t, results[1].Scrap)
	requireDecimal(t, "2", results[1].Scrap.Quantity)
	requireDecimal(t, "20", results[1].Scrap.Cost)
	require.True(t, f.repo.entry(fabric).Quantity.IsZero())
	require.Equal(t, "PO-8", f.repo.movements[0].Ref)
	require.Equal(t, 2, f.metrics.writeOffs)
}

func TestConsumeForProductionValidation(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "F-1", "0")

	_, err := f.svc.ConsumeForProduction(context.Background(), "PO", nil, "keeper")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.ConsumeForProduction(context.Background(), "PO", []ConsumptionLine{{Key: key, Quantity: dec("0")}}, "keeper")
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, f.repo.txCount)
}

func TestScrapRemainder(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "0")
	f.repo.setEntry(key, "40", "120")

	scrap, err := f.svc.ScrapRemainder(context.Background(), key, "keeper")
	require.NoError(t, err)
	require.Equal(t, ScrapReasonManual, scrap.Reason)
	requireDecimal(t, "40", scrap.Quantity)
	requireDecimal(t, "120", scrap.Cost)
	require.Equal(t, "Material A", scrap.MaterialName)
	require.True(t, f.repo.entry(key).Quantity.IsZero())
	require.Equal(t, 1, f.metrics.scraps["manual"])

	_, err = f.svc.ScrapRemainder(context.Background(), key, "keeper")
	require.ErrorIs(t, err, ErrNothingToScrap)
	require.Len(t, f.repo.scraps, 1)

	_, err = f.svc.ScrapRemainder(context.Background(), materials.Key{Type: materials.TypeFabric, Article: "ghost"}, "keeper")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestWriteOffRejectsQuantityBeyondStoredScale(t *testing.T) {
	f := newFixture(CostPolicyProportional)
	key := f.repo.addMaterial(materials.TypeFabric, "A", "1")
	f.repo.setEntry(key, "10", "50")

	_, err := f.svc.WriteOff(context.Background(), key, dec("0.00004"), "keeper")
	require.ErrorIs(t, err, ErrQuantityPrecision)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, f.repo.txCount)
	requireDecimal(t, "10", f.repo.entry(key).Quantity)
	require.Empty(t, f.repo.scraps)

	_, err = f.svc.ConsumeForProduction(context.Background(), "PO-9", []ConsumptionLine{{Key: key, Quantity: dec("1.00001")}}, "keeper")
	require.ErrorIs(t, err, ErrQuantityPrecision)
	require.Zero(t, f.repo.txCount)

	result, err := f.svc.WriteOff(context.Background(), key, dec("0.50000"), "keeper")
	require.NoError(t, err, "trailing zeros fit the stored scale")
	requireDecimal(t, "9.5", result.Remaining)
}

func TestLedgerRejectsUnstorablePrecision(t *testing.T) {
	repo := newMemoryRepo()
	key := repo.addMaterial(materials.TypeFabric, "A", "0")
	repo.setEntry(key, "10", "50")
	ledger := newLedger(&memoryTx{repo: repo}, CostPolicyProportional)

	_, err := ledger.Decrement(context.Background(), key, dec("0.00004"))
	require.ErrorIs(t, err, ErrQuantityPrecision)
	_, err = ledger.Receive(context.Background(), key, dec("0.00001"), dec("0"))
	require.ErrorIs(t, err, ErrQuantityPrecision)
	_, err = ledger.Receive(context.Background(), key, dec("1"), dec("0.00001"))
	require.ErrorIs(t, err, ErrPricePrecision)
	requireDecimal(t, "10", repo.entry(key).Quantity)
}
