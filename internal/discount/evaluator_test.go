package discount

import (
	"context"
	"fmt"
	"testing"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	codes map[string]domain.DiscountCode
	err   error
	seen  []string
}

func (m *mockRepository) FindByCode(_ context.Context, code string) (*domain.DiscountCode, error) {
	m.seen = append(m.seen, code)
	if m.err != nil {
		return nil, m.err
	}
	dc, ok := m.codes[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	return &dc, nil
}

func newTestEvaluator() (*Evaluator, *mockRepository) {
	repo := &mockRepository{codes: map[string]domain.DiscountCode{
		"HALF":   {Code: "HALF", Percentage: 50, Active: true},
		"FREE":   {Code: "FREE", Percentage: 100, Active: true},
		"OLD":    {Code: "OLD", Percentage: 20, Active: false},
		"BROKEN": {Code: "BROKEN", Percentage: 250, Active: true},
		"ZEROED": {Code: "ZEROED", Percentage: 0, Active: true},
		"summer": {Code: "summer", Percentage: 15, Active: true},
	}}
	return NewEvaluator(repo), repo
}

func TestResolve(t *testing.T) {
	sut, _ := newTestEvaluator()
	ctx := context.Background()

	tests := []struct {
		code string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"HALF", 50},
		{"  HALF  ", 50},
		{"FREE", 100},
		{"OLD", 0},
		{"UNKNOWN", 0},
		{"summer", 15},
		{"SUMMER", 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.code), func(t *testing.T) {
			got, err := sut.Resolve(ctx, tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		})
	}
}

func TestResolve_EmptyCodeSkipsStore(t *testing.T) {
	sut, repo := newTestEvaluator()

	_, err := sut.Resolve(context.Background(), "  ")
	require.NoError(t, err)
	assert.Empty(t, repo.seen)
}

func TestResolve_CorruptRecordIsDataIntegrityError(t *testing.T) {
	sut, _ := newTestEvaluator()

	_, err := sut.Resolve(context.Background(), "BROKEN")
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)

	_, err = sut.Resolve(context.Background(), "ZEROED")
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)
}

func TestResolve_StoreFailureIsUpstream(t *testing.T) {
	sut, repo := newTestEvaluator()
	repo.err = fmt.Errorf("%w: connection refused", domain.ErrUpstream)

	got, err := sut.Resolve(context.Background(), "HALF")
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, 0, got)
}
