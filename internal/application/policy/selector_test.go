package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func cat(s string) *string { return &s }

func rule(id int64, category *string, min, max *decimal.Decimal) *entity.ApprovalRule {
	return &entity.ApprovalRule{
		ID:                  id,
		CompanyID:           1,
		Category:            category,
		MinAmount:           min,
		MaxAmount:           max,
		Mode:                entity.ModeSequential,
		ApprovalLevels:      1,
		PercentageThreshold: decimal.NewFromInt(100),
		IsActive:            true,
	}
}

func TestSelectRule(t *testing.T) {
	travelWide := rule(1, cat("travel"), nil, nil)
	travelNarrow := rule(2, cat("travel"), dec(0), dec(500))
	wildcardTight := rule(3, nil, dec(100), dec(200))
	travelNarrowTwin := rule(4, cat("travel"), dec(100), dec(600))
	inactive := rule(5, cat("meals"), nil, nil)
	inactive.IsActive = false
	openLow := rule(6, cat("office"), nil, dec(1000))
	openHigh := rule(7, cat("office"), dec(0), nil)

	all := []*entity.ApprovalRule{travelWide, travelNarrow, wildcardTight, travelNarrowTwin, inactive, openLow, openHigh}

	tests := []struct {
		name     string
		category string
		amount   int64
		wantID   int64
	}{
		{"exact category beats narrower wildcard", "travel", 150, 2},
		{"narrowest exact span wins", "travel", 450, 2},
		{"outside bounded ranges falls back to unbounded", "travel", 5000, 1},
		{"wildcard when no exact match", "software", 150, 3},
		{"inactive rules ignored", "meals", 10, 0},
		{"unbounded rules tie on span, lowest id wins", "office", 10, 6},
		{"inclusive lower bound", "software", 100, 3},
		{"inclusive upper bound", "software", 200, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectRule(all, tt.category, decimal.NewFromInt(tt.amount))
			if tt.wantID == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestSelectRule_EqualSpanUsesLowestID(t *testing.T) {
	a := rule(9, cat("travel"), dec(0), dec(100))
	b := rule(8, cat("travel"), dec(50), dec(150))

	got := SelectRule([]*entity.ApprovalRule{a, b}, "travel", decimal.NewFromInt(75))

	require.NotNil(t, got)
	assert.Equal(t, int64(8), got.ID)
}

type fakeStore struct {
	rules    []*entity.ApprovalRule
	sequence []*entity.ApprovalSequenceEntry
	err      error
}

func (f *fakeStore) ListRules(ctx context.Context, companyID int64) ([]*entity.ApprovalRule, error) {
	return f.rules, f.err
}

func (f *fakeStore) ListSequence(ctx context.Context, companyID int64) ([]*entity.ApprovalSequenceEntry, error) {
	return f.sequence, f.err
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

func TestRepository_FindRule(t *testing.T) {
	ctx := context.Background()

	t.Run("matching rule", func(t *testing.T) {
		repo := NewRepository(&fakeStore{rules: []*entity.ApprovalRule{rule(4, nil, nil, nil)}}, nopLogger{})

		got, err := repo.FindRule(ctx, 1, "travel", decimal.NewFromInt(10))

		require.NoError(t, err)
		assert.Equal(t, int64(4), got.ID)
	})

	t.Run("default when nothing matches", func(t *testing.T) {
		repo := NewRepository(&fakeStore{}, nopLogger{})

		got, err := repo.FindRule(ctx, 7, "travel", decimal.NewFromInt(10))

		require.NoError(t, err)
		assert.True(t, got.IsDefault())
		assert.Equal(t, int64(7), got.CompanyID)
		assert.Equal(t, entity.ModeSequential, got.Mode)
		assert.Equal(t, 1, got.ApprovalLevels)
		assert.Nil(t, got.AutoApproveThreshold)
	})

	t.Run("store error propagates", func(t *testing.T) {
		storeErr := workflow.Storage("list rules", errors.New("connection refused"))
		repo := NewRepository(&fakeStore{err: storeErr}, nopLogger{})

		_, err := repo.FindRule(ctx, 1, "travel", decimal.NewFromInt(10))

		assert.ErrorIs(t, err, workflow.ErrStorage)
	})
}

func TestRepository_Sequence(t *testing.T) {
	ctx := context.Background()
	u := func(v int64) *int64 { return &v }

	t.Run("sorted by sequence order", func(t *testing.T) {
		store := &fakeStore{sequence: []*entity.ApprovalSequenceEntry{
			{SequenceOrder: 3, UserID: u(30)},
			{SequenceOrder: 1, IsManagerApprover: true},
			{SequenceOrder: 2, UserID: u(20)},
		}}

		got, err := NewRepository(store, nopLogger{}).Sequence(ctx, 1)

		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []int{1, 2, 3}, []int{got[0].SequenceOrder, got[1].SequenceOrder, got[2].SequenceOrder})
		assert.Equal(t, 3, store.sequence[0].SequenceOrder, "input slice must not be reordered")
	})

	t.Run("duplicate order is a configuration error", func(t *testing.T) {
		store := &fakeStore{sequence: []*entity.ApprovalSequenceEntry{
			{SequenceOrder: 1, UserID: u(10)},
			{SequenceOrder: 1, UserID: u(11)},
		}}

		_, err := NewRepository(store, nopLogger{}).Sequence(ctx, 1)

		assert.ErrorIs(t, err, workflow.ErrConfiguration)
	})
}
