package inventory

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/matledger/internal/shared"
)

// GetScrapLog lists scrap entries newest first. Both bounds are inclusive
// and optional. The log has no update or delete path.
func (s *Service) GetScrapLog(ctx context.Context, filter ScrapLogFilter) ([]ScrapLogEntry, error) {
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, fmt.Errorf("%w: from must not be after to", shared.ErrValidation)
	}
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be >= 0", shared.ErrValidation)
	}
	return s.repo.ListScrapLog(ctx, filter)
}
