package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/matledger/internal/masterdata/materials"
	"github.com/odyssey-erp/matledger/internal/shared"
)

const receiptsModule = "receipts"

// AcceptReceipt stores an accepted receipt and merges each line into the
// ledger. Either the header, all lines and all ledger updates commit, or none.
func (s *Service) AcceptReceipt(ctx context.Context, doc ReceiptDocument) (ReceiptDocument, error) {
	doc, err := s.normalizeReceipt(ctx, doc)
	if err != nil {
		return ReceiptDocument{}, err
	}
	release, err := s.claim(ctx, doc.IdempotencyKey, receiptsModule)
	if err != nil {
		return ReceiptDocument{}, err
	}

	var saved ReceiptDocument
	err = s.inTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensureMaterials(ctx, tx, doc.Lines); err != nil {
			return err
		}
		if doc.Number == "" {
			number, err := tx.NextReceiptNumber(ctx)
			if err != nil {
				return err
			}
			doc.Number = number
		}
		at := s.now().UTC()
		doc.Accepted = true
		doc.AcceptedAt = &at
		inserted, err := tx.InsertReceipt(ctx, doc)
		if err != nil {
			return err
		}
		if err := s.postReceipt(ctx, tx, inserted, inserted.CreatedBy, at); err != nil {
			return err
		}
		saved = inserted
		return nil
	})
	if err != nil {
		release()
		return ReceiptDocument{}, err
	}

	s.metrics.ReceiptAccepted(len(saved.Lines))
	s.logger.InfoContext(ctx, "receipt accepted",
		slog.String("number", saved.Number),
		slog.Int("lines", len(saved.Lines)),
		slog.String("total", saved.TotalAmount.String()))
	s.record(ctx, receiptAudit("inventory:receipt_accept", saved))
	return saved, nil
}

// SaveReceiptDraft stores a receipt without touching the ledger.
func (s *Service) SaveReceiptDraft(ctx context.Context, doc ReceiptDocument) (ReceiptDocument, error) {
	doc, err := s.normalizeReceipt(ctx, doc)
	if err != nil {
		return ReceiptDocument{}, err
	}
	var saved ReceiptDocument
	err = s.inTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensureMaterials(ctx, tx, doc.Lines); err != nil {
			return err
		}
		if doc.Number == "" {
			number, err := tx.NextReceiptNumber(ctx)
			if err != nil {
				return err
			}
			doc.Number = number
		}
		doc.Accepted = false
		doc.AcceptedAt = nil
		inserted, err := tx.InsertReceipt(ctx, doc)
		if err != nil {
			return err
		}
		saved = inserted
		return nil
	})
	if err != nil {
		return ReceiptDocument{}, err
	}
	s.record(ctx, receiptAudit("inventory:receipt_draft", saved))
	return saved, nil
}

// AcceptReceiptDraft accepts a stored draft exactly once.
func (s *Service) AcceptReceiptDraft(ctx context.Context, id int64) (ReceiptDocument, error) {
	if id <= 0 {
		return ReceiptDocument{}, fmt.Errorf("%w: invalid receipt id", shared.ErrValidation)
	}
	acceptor := operatorOrContext(ctx, "")
	var accepted ReceiptDocument
	err := s.inTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetReceiptForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if doc.Accepted {
			return ErrAlreadyAccepted
		}
		if len(doc.Lines) == 0 {
			return ErrEmptyReceipt
		}
		if err := ensureMaterials(ctx, tx, doc.Lines); err != nil {
			return err
		}
		at := s.now().UTC()
		if err := s.postReceipt(ctx, tx, doc, acceptor, at); err != nil {
			return err
		}
		if err := tx.MarkReceiptAccepted(ctx, doc.ID, at); err != nil {
			return err
		}
		doc.Accepted = true
		doc.AcceptedAt = &at
		accepted = doc
		return nil
	})
	if err != nil {
		return ReceiptDocument{}, err
	}
	s.metrics.ReceiptAccepted(len(accepted.Lines))
	log := receiptAudit("inventory:receipt_accept", accepted)
	log.Actor = acceptor
	s.record(ctx, log)
	return accepted, nil
}

// ReceiveStock books a single-line receipt and returns the document id.
func (s *Service) ReceiveStock(ctx context.Context, materialType materials.Type, article string, quantity, unitPrice decimal.Decimal, meta ReceiptMeta) (int64, error) {
	if err := checkQuantity(quantity); err != nil {
		return 0, err
	}
	doc, err := s.AcceptReceipt(ctx, ReceiptDocument{
		Number:         meta.Number,
		Date:           meta.Date,
		CreatedBy:      meta.Operator,
		Note:           meta.Note,
		IdempotencyKey: meta.IdempotencyKey,
		Lines: []ReceiptLine{{
			MaterialType: materialType,
			Article:      article,
			Quantity:     quantity,
			UnitPrice:    unitPrice,
		}},
	})
	if err != nil {
		return 0, err
	}
	return doc.ID, nil
}

func (s *Service) GetReceipt(ctx context.Context, id int64) (ReceiptDocument, error) {
	if id <= 0 {
		return ReceiptDocument{}, fmt.Errorf("%w: invalid receipt id", shared.ErrValidation)
	}
	return s.repo.GetReceipt(ctx, id)
}

// normalizeReceipt validates lines before any storage access and drops
// zero-quantity lines.
func (s *Service) normalizeReceipt(ctx context.Context, doc ReceiptDocument) (ReceiptDocument, error) {
	doc.Number = strings.TrimSpace(doc.Number)
	doc.Note = strings.TrimSpace(doc.Note)
	doc.CreatedBy = operatorOrContext(ctx, strings.TrimSpace(doc.CreatedBy))
	if doc.Date.IsZero() {
		doc.Date = s.now().UTC()
	}
	doc.Date = time.Date(doc.Date.Year(), doc.Date.Month(), doc.Date.Day(), 0, 0, 0, 0, time.UTC)

	lines := make([]ReceiptLine, 0, len(doc.Lines))
	total := decimal.Zero
	for i, line := range doc.Lines {
		line.Article = strings.TrimSpace(line.Article)
		if err := line.Key().Validate(); err != nil {
			return ReceiptDocument{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		if line.Quantity.IsNegative() {
			return ReceiptDocument{}, fmt.Errorf("%w: line %d quantity must be >= 0", shared.ErrValidation, i+1)
		}
		if line.UnitPrice.IsNegative() {
			return ReceiptDocument{}, fmt.Errorf("line %d: %w", i+1, ErrInvalidUnitPrice)
		}
		if !fitsScale(line.Quantity, quantityScale) {
			return ReceiptDocument{}, fmt.Errorf("line %d: %w", i+1, ErrQuantityPrecision)
		}
		if !fitsScale(line.UnitPrice, moneyScale) {
			return ReceiptDocument{}, fmt.Errorf("line %d: %w", i+1, ErrPricePrecision)
		}
		if line.Quantity.IsZero() {
			continue
		}
		lines = append(lines, line)
		total = total.Add(line.Total())
	}
	if len(lines) == 0 {
		return ReceiptDocument{}, ErrEmptyReceipt
	}
	doc.Lines = lines
	doc.TotalAmount = total
	return doc, nil
}

// postReceipt merges every line into the ledger in key order, so that two
// receipts touching the same materials lock them in the same sequence.
func (s *Service) postReceipt(ctx context.Context, tx TxRepository, doc ReceiptDocument, operator string, at time.Time) error {
	ledger := newLedger(tx, s.policy)
	lines := append([]ReceiptLine(nil), doc.Lines...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Key().Less(lines[j].Key()) })
	for _, line := range lines {
		cost := line.Total()
		entry, err := ledger.Receive(ctx, line.Key(), line.Quantity, cost)
		if err != nil {
			return err
		}
		err = tx.InsertMovement(ctx, Movement{
			Key:         line.Key(),
			Type:        MovementReceipt,
			Ref:         doc.Number,
			QtyIn:       line.Quantity,
			Cost:        cost,
			BalanceQty:  entry.Quantity,
			BalanceCost: entry.TotalCost,
			Operator:    operator,
			Note:        doc.Note,
			PostedAt:    at,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func ensureMaterials(ctx context.Context, tx TxRepository, lines []ReceiptLine) error {
	seen := make(map[materials.Key]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.Key()]; ok {
			continue
		}
		seen[line.Key()] = struct{}{}
		if _, err := tx.GetMaterial(ctx, line.Key()); err != nil {
			return err
		}
	}
	return nil
}

func receiptAudit(action string, doc ReceiptDocument) shared.AuditLog {
	return shared.AuditLog{
		Actor:    doc.CreatedBy,
		Action:   action,
		Entity:   "receipt",
		EntityID: doc.Number,
		Meta: map[string]any{
			"receipt_id": doc.ID,
			"lines":      len(doc.Lines),
			"total":      doc.TotalAmount.String(),
		},
	}
}
