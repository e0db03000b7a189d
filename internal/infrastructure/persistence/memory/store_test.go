package memory

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

func newClaim() *entity.ExpenseClaim {
	return &entity.ExpenseClaim{
		SubmitterID:     1,
		CompanyID:       1,
		Category:        "travel",
		Amount:          decimal.NewFromInt(10),
		Currency:        "USD",
		ConvertedAmount: decimal.NewFromInt(10),
		Status:          entity.ClaimPending,
	}
}

func TestStore_TransactionRollback(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	var claimID int64
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		c := newClaim()
		require.NoError(t, s.Create(ctx, c))
		claimID = c.ID

		_, err := s.GetByID(ctx, claimID)
		require.NoError(t, err, "writes are visible inside the transaction")
		return boom
	})

	assert.ErrorIs(t, err, boom)
	_, err = s.GetByID(ctx, claimID)
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestStore_UncommittedWritesInvisibleOutside(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	c := newClaim()
	require.NoError(t, s.Create(ctx, c))

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- s.WithTransaction(ctx, func(ctx context.Context) error {
			cur, err := s.GetForUpdate(ctx, c.ID)
			if err != nil {
				return err
			}
			cur.Status = entity.ClaimApproved
			if err := s.UpdateStatus(ctx, cur); err != nil {
				return err
			}
			close(inside)
			<-release
			return nil
		})
	}()

	<-inside
	got, err := s.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClaimPending, got.Status)

	close(release)
	require.NoError(t, <-done)
	got, err = s.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClaimApproved, got.Status)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	c := newClaim()
	require.NoError(t, s.Create(ctx, c))
	require.NoError(t, s.CreateSteps(ctx, []*entity.ApprovalStep{{ClaimID: c.ID, ApproverID: 2, SequenceOrder: 1, Status: entity.StepPending}}))

	steps, err := s.GetSteps(ctx, c.ID)
	require.NoError(t, err)
	steps[0].Status = entity.StepApproved

	again, err := s.GetSteps(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StepPending, again[0].Status)
}

func TestStore_ListPendingByApprover(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	open := newClaim()
	closed := newClaim()
	closed.Status = entity.ClaimApproved
	require.NoError(t, s.Create(ctx, open))
	require.NoError(t, s.Create(ctx, closed))
	require.NoError(t, s.CreateSteps(ctx, []*entity.ApprovalStep{
		{ClaimID: open.ID, ApproverID: 5, SequenceOrder: 1, Status: entity.StepPending},
		{ClaimID: open.ID, ApproverID: 6, SequenceOrder: 2, Status: entity.StepPending},
		{ClaimID: closed.ID, ApproverID: 5, SequenceOrder: 1, Status: entity.StepPending},
	}))

	got, err := s.ListPendingByApprover(ctx, 5)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, open.ID, got[0].ClaimID)
}

func TestStore_GetManager(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	mgr := int64(2)
	gone := int64(3)
	require.NoError(t, s.SaveUser(ctx, &entity.User{ID: 1, ManagerID: &mgr, IsActive: true}))
	require.NoError(t, s.SaveUser(ctx, &entity.User{ID: 2, IsActive: true}))
	require.NoError(t, s.SaveUser(ctx, &entity.User{ID: 3, IsActive: false}))
	require.NoError(t, s.SaveUser(ctx, &entity.User{ID: 4, ManagerID: &gone, IsActive: true}))

	got, err := s.GetManager(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), *got)

	for _, id := range []int64{2, 4, 99} {
		got, err := s.GetManager(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got, "user %d", id)
	}
}

func TestStore_ReplaceSequence(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	u := int64(9)

	require.NoError(t, s.ReplaceSequence(ctx, 1, []*entity.ApprovalSequenceEntry{
		{SequenceOrder: 2, UserID: &u, IsRequired: true},
		{SequenceOrder: 1, IsManagerApprover: true, IsRequired: true},
	}))

	seq, err := s.ListSequence(ctx, 1)
	require.NoError(t, err)
	require.Len(t, seq, 2)
	assert.True(t, seq[0].IsManagerApprover)
	assert.Equal(t, int64(1), seq[1].CompanyID)
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewStore().WithTransaction(ctx, func(context.Context) error { return nil })

	assert.ErrorIs(t, err, workflow.ErrStorage)
}
