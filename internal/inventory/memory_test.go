package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/masterdata/materials"
	"github.com/odyssey-erp/matledger/internal/shared"
)

// memoryRepo serialises transactions with one mutex, which stands in for the
// row lock, and restores its state when a transaction fails.
type memoryRepo struct {
	mu        sync.Mutex
	materials map[materials.Key]materials.Material
	entries   map[materials.Key]LedgerEntry
	scraps    []ScrapLogEntry
	movements []Movement
	receipts  map[int64]ReceiptDocument
	seq       int64
	nextID    int64

	txCount  int
	observed []decimal.Decimal

	failInsertScrap    error
	failInsertMovement error
	failWithTx         error
}

type memoryTx struct {
	repo     *memoryRepo
	observed bool
}

type memoryState struct {
	entries   map[materials.Key]LedgerEntry
	scraps    []ScrapLogEntry
	movements []Movement
	receipts  map[int64]ReceiptDocument
	seq       int64
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		materials: make(map[materials.Key]materials.Material),
		entries:   make(map[materials.Key]LedgerEntry),
		receipts:  make(map[int64]ReceiptDocument),
	}
}

func (r *memoryRepo) addMaterial(typ materials.Type, article string, threshold string) materials.Key {
	key := materials.Key{Type: typ, Article: article}
	r.materials[key] = materials.Material{
		Type:           typ,
		Article:        article,
		Name:           "Material " + article,
		UnitID:         1,
		UnitName:       "m",
		ScrapThreshold: decimal.RequireFromString(threshold),
	}
	return key
}

func (r *memoryRepo) setEntry(key materials.Key, qty, cost string) {
	r.entries[key] = LedgerEntry{Key: key, Quantity: decimal.RequireFromString(qty), TotalCost: decimal.RequireFromString(cost)}
}

func (r *memoryRepo) entry(key materials.Key) LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[key]
}

func (r *memoryRepo) snapshot() memoryState {
	state := memoryState{
		entries:   make(map[materials.Key]LedgerEntry, len(r.entries)),
		scraps:    append([]ScrapLogEntry(nil), r.scraps...),
		movements: append([]Movement(nil), r.movements...),
		receipts:  make(map[int64]ReceiptDocument, len(r.receipts)),
		seq:       r.seq,
		nextID:    r.nextID,
	}
	for k, v := range r.entries {
		state.entries[k] = v
	}
	for k, v := range r.receipts {
		state.receipts[k] = v
	}
	return state
}

func (r *memoryRepo) restore(state memoryState) {
	r.entries = state.entries
	r.scraps = state.scraps
	r.movements = state.movements
	r.receipts = state.receipts
	r.seq = state.seq
	r.nextID = state.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCount++
	if r.failWithTx != nil {
		return r.failWithTx
	}
	state := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(state)
		return err
	}
	return nil
}

func (r *memoryRepo) ListScrapLog(_ context.Context, filter ScrapLogFilter) ([]ScrapLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ScrapLogEntry
	for _, e := range r.scraps {
		if filter.From != nil && e.LoggedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.LoggedAt.After(*filter.To) {
			continue
		}
		if m, ok := r.materials[e.Key()]; ok {
			e.MaterialName = m.Name
			e.UnitName = m.UnitName
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LoggedAt.Equal(out[j].LoggedAt) {
			return out[i].LoggedAt.After(out[j].LoggedAt)
		}
		return out[i].ID > out[j].ID
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultScrapLogLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) StockSnapshot(_ context.Context, materialType materials.Type) ([]StockRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StockRow
	for key, e := range r.entries {
		if key.Type != materialType {
			continue
		}
		m := r.materials[key]
		out = append(out, StockRow{Article: key.Article, Name: m.Name, Quantity: e.Quantity, TotalCost: e.TotalCost, UnitID: m.UnitID, UnitName: m.UnitName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Article < out[j].Article })
	return out, nil
}

func (r *memoryRepo) GetStockCard(_ context.Context, filter StockCardFilter) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Movement
	for _, m := range r.movements {
		if m.Key == filter.Key {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetReceipt(_ context.Context, id int64) (ReceiptDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.receipts[id]
	if !ok {
		return ReceiptDocument{}, shared.ErrNotFound
	}
	return doc, nil
}

func (r *memoryRepo) ScanLedgerAnomalies(context.Context) ([]LedgerAnomaly, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LedgerAnomaly
	for key, e := range r.entries {
		if e.Quantity.IsNegative() || e.TotalCost.IsNegative() || (e.Quantity.IsZero() && !e.TotalCost.IsZero()) {
			out = append(out, LedgerAnomaly{Key: key, Quantity: e.Quantity, TotalCost: e.TotalCost, Problem: classifyAnomaly(e.Quantity, e.TotalCost)})
		}
	}
	return out, nil
}

func (tx *memoryTx) GetMaterial(_ context.Context, key materials.Key) (materials.Material, error) {
	m, ok := tx.repo.materials[key]
	if !ok {
		return materials.Material{}, shared.ErrNotFound
	}
	return m, nil
}

func (tx *memoryTx) GetEntryForUpdate(_ context.Context, key materials.Key) (LedgerEntry, error) {
	e, ok := tx.repo.entries[key]
	if !tx.observed {
		tx.observed = true
		tx.repo.observed = append(tx.repo.observed, e.Quantity)
	}
	if !ok {
		return LedgerEntry{Key: key}, ErrEntryNotFound
	}
	return e, nil
}

func (tx *memoryTx) ReceiveEntry(_ context.Context, key materials.Key, qty, cost decimal.Decimal) (LedgerEntry, error) {
	e := tx.repo.entries[key]
	e.Key = key
	e.Quantity = e.Quantity.Add(qty)
	e.TotalCost = e.TotalCost.Add(cost)
	tx.repo.entries[key] = e
	return e, nil
}

func (tx *memoryTx) UpdateEntry(_ context.Context, entry LedgerEntry) error {
	if _, ok := tx.repo.entries[entry.Key]; !ok {
		return ErrEntryNotFound
	}
	if entry.Quantity.IsNegative() || entry.TotalCost.IsNegative() {
		return errors.New("check constraint violated")
	}
	tx.repo.entries[entry.Key] = entry
	return nil
}

func (tx *memoryTx) InsertScrap(_ context.Context, entry ScrapLogEntry) (ScrapLogEntry, error) {
	if tx.repo.failInsertScrap != nil {
		return ScrapLogEntry{}, tx.repo.failInsertScrap
	}
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	tx.repo.scraps = append(tx.repo.scraps, entry)
	return entry, nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m Movement) error {
	if tx.repo.failInsertMovement != nil {
		return tx.repo.failInsertMovement
	}
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, m)
	return nil
}

func (tx *memoryTx) NextReceiptNumber(context.Context) (string, error) {
	tx.repo.seq++
	return formatReceiptNumber(tx.repo.seq), nil
}

func (tx *memoryTx) InsertReceipt(_ context.Context, doc ReceiptDocument) (ReceiptDocument, error) {
	for _, existing := range tx.repo.receipts {
		if existing.Number == doc.Number {
			return ReceiptDocument{}, shared.ErrValidation
		}
	}
	tx.repo.nextID++
	doc.ID = tx.repo.nextID
	doc.Lines = append([]ReceiptLine(nil), doc.Lines...)
	tx.repo.receipts[doc.ID] = doc
	return doc, nil
}

func (tx *memoryTx) GetReceiptForUpdate(_ context.Context, id int64) (ReceiptDocument, error) {
	doc, ok := tx.repo.receipts[id]
	if !ok {
		return ReceiptDocument{}, shared.ErrNotFound
	}
	return doc, nil
}

func (tx *memoryTx) MarkReceiptAccepted(_ context.Context, id int64, at time.Time) error {
	doc, ok := tx.repo.receipts[id]
	if !ok || doc.Accepted {
		return ErrAlreadyAccepted
	}
	doc.Accepted = true
	doc.AcceptedAt = &at
	tx.repo.receipts[id] = doc
	return nil
}

type auditSpy struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditSpy) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]string)}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type metricsSpy struct {
	mu        sync.Mutex
	receipts  int
	writeOffs int
	scraps    map[string]int
}

func (m *metricsSpy) ReceiptAccepted(int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts++
}

func (m *metricsSpy) WriteOffPosted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeOffs++
}

func (m *metricsSpy) ScrapBooked(reason string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scraps == nil {
		m.scraps = make(map[string]int)
	}
	m.scraps[reason]++
}

// stepClock advances one second on every reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}
