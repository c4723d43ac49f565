package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithdrawValidation(t *testing.T) {
	_, err := NewWithdraw(1, "btc", d("0"), d("0"), "addr")
	assert.True(t, errors.Is(err, ErrInvalidWithdraw))

	_, err = NewWithdraw(1, "btc", d("1"), d("1"), "addr")
	assert.True(t, errors.Is(err, ErrInvalidWithdraw))

	_, err = NewWithdraw(1, "btc", d("1"), d("0.1"), "")
	assert.True(t, errors.Is(err, ErrInvalidWithdraw))

	w, err := NewWithdraw(1, "btc", d("1"), d("0.1"), "addr")
	require.NoError(t, err)
	assert.Equal(t, WithdrawPrepared, w.State)
	assert.Equal(t, "0.9", w.Amount.String())
	assert.NotEmpty(t, w.TID)
}

func TestWithdrawTransitions(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		from    WithdrawState
		event   WithdrawEvent
		to      WithdrawState
		actions []Action
	}{
		{"submit locks", WithdrawPrepared, WithdrawSubmit, WithdrawSubmitted, []Action{ActionLockFunds}},
		{"cancel prepared keeps funds", WithdrawPrepared, WithdrawCancel, WithdrawCanceled, nil},
		{"cancel submitted unlocks", WithdrawSubmitted, WithdrawCancel, WithdrawCanceled, []Action{ActionUnlockFunds}},
		{"cancel accepted unlocks", WithdrawAccepted, WithdrawCancel, WithdrawCanceled, []Action{ActionUnlockFunds}},
		{"suspect unlocks", WithdrawSubmitted, WithdrawSuspect, WithdrawSuspected, []Action{ActionUnlockFunds}},
		{"accept", WithdrawSubmitted, WithdrawAccept, WithdrawAccepted, nil},
		{"reject accepted", WithdrawAccepted, WithdrawReject, WithdrawRejected, []Action{ActionUnlockFunds}},
		{"process dispatches payout", WithdrawAccepted, WithdrawProcess, WithdrawProcessing, []Action{ActionDispatchPayout}},
		{"dispatch", WithdrawProcessing, WithdrawDispatch, WithdrawConfirming, nil},
		{"success settles", WithdrawConfirming, WithdrawSuccess, WithdrawSucceed, []Action{ActionSubLocked, ActionCreditRevenue, ActionCreditAsset}},
		{"fail processing", WithdrawProcessing, WithdrawFail, WithdrawFailed, []Action{ActionUnlockFunds}},
		{"fail confirming", WithdrawConfirming, WithdrawFail, WithdrawFailed, []Action{ActionUnlockFunds}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Withdraw{ID: 1, State: tt.from}
			actions, err := w.Fire(ctx, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.to, w.State)
			assert.Equal(t, tt.actions, actions)
			assert.Equal(t, tt.to.Completed(), w.CompletedAt != nil)
		})
	}
}

func TestWithdrawIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	illegal := []struct {
		from  WithdrawState
		event WithdrawEvent
	}{
		{WithdrawPrepared, WithdrawAccept},
		{WithdrawSubmitted, WithdrawProcess},
		{WithdrawProcessing, WithdrawCancel},
		{WithdrawSuspected, WithdrawAccept},
		{WithdrawSucceed, WithdrawFail},
		{WithdrawCanceled, WithdrawCancel},
		{WithdrawAccepted, WithdrawSuspect},
	}
	for _, tc := range illegal {
		w := &Withdraw{ID: 1, State: tc.from}
		_, err := w.Fire(ctx, tc.event)
		assert.True(t, errors.Is(err, ErrInvalidTransition), "%s from %s", tc.event, tc.from)
		assert.Equal(t, tc.from, w.State)
	}
}

func TestDepositTransitions(t *testing.T) {
	ctx := context.Background()

	dep, err := NewDeposit(1, "btc", d("1"), d("0.001"), "addr", "tx1", 0)
	require.NoError(t, err)
	assert.Equal(t, "0.999", dep.Amount.String())

	actions, err := dep.Fire(ctx, DepositAccept)
	require.NoError(t, err)
	assert.Equal(t, DepositAccepted, dep.State)
	assert.Equal(t, []Action{ActionPlusFunds, ActionDebitAsset, ActionCreditRevenue}, actions)
	assert.Nil(t, dep.CompletedAt)

	_, err = dep.Fire(ctx, DepositAccept)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = dep.Fire(ctx, DepositDispatch)
	require.NoError(t, err)
	assert.Equal(t, DepositCollected, dep.State)
	assert.NotNil(t, dep.CompletedAt)

	_, err = NewDeposit(1, "btc", d("0.001"), d("0.001"), "addr", "tx2", 0)
	assert.True(t, errors.Is(err, ErrInvalidDeposit))
}

func TestWithdrawMachineFollowsState(t *testing.T) {
	ctx := context.Background()
	w := &Withdraw{ID: 7, State: WithdrawSubmitted}

	_, err := w.Fire(ctx, WithdrawAccept)
	require.NoError(t, err)
	actions, err := w.Fire(ctx, WithdrawProcess)
	require.NoError(t, err)
	assert.Equal(t, WithdrawProcessing, w.State)
	assert.Equal(t, []Action{ActionDispatchPayout}, actions)

	// 状态机拒绝的事件不改变状态
	_, err = w.Fire(ctx, WithdrawAccept)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, WithdrawProcessing, w.State)

	// 外部改写状态后按新状态重建
	w.State = WithdrawConfirming
	actions, err = w.Fire(ctx, WithdrawSuccess)
	require.NoError(t, err)
	assert.Equal(t, WithdrawSucceed, w.State)
	assert.Equal(t, []Action{ActionSubLocked, ActionCreditRevenue, ActionCreditAsset}, actions)
	assert.NotNil(t, w.CompletedAt)
}

func TestDepositRejectAndCancelComplete(t *testing.T) {
	ctx := context.Background()
	for _, ev := range []DepositEvent{DepositReject, DepositCancel} {
		dep := &Deposit{ID: 3, State: DepositSubmitted}
		actions, err := dep.Fire(ctx, ev)
		require.NoError(t, err)
		assert.Nil(t, actions)
		assert.NotNil(t, dep.CompletedAt)

		_, err = dep.Fire(ctx, DepositAccept)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
}
