package discount

import (
	"context"
	"errors"
	"fmt"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/logger"
)

var ErrCodeNotFound = errors.New("discount code not found")

type CodeRepository interface {
	FindByCode(ctx context.Context, code string) (*domain.DiscountCode, error)
}

type Evaluator struct {
	repo CodeRepository
}

func NewEvaluator(repo CodeRepository) *Evaluator {
	return &Evaluator{repo: repo}
}

// Resolve maps a user supplied code to a percentage in [0, 100]. Empty,
// unknown and inactive codes resolve to 0. Store failures are returned, never
// treated as "no discount".
func (e *Evaluator) Resolve(ctx context.Context, code string) (int, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return 0, nil
	}

	dc, err := e.repo.FindByCode(ctx, code)
	if errors.Is(err, ErrCodeNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve discount code: %w", err)
	}

	if !dc.Active {
		return 0, nil
	}
	if err := dc.Validate(); err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("code", code).Msg("rejecting corrupt discount record")
		return 0, err
	}
	return dc.Percentage, nil
}
