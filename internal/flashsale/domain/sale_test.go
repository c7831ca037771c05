package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saleWithWindow(start, end time.Time) *FlashSale {
	return &FlashSale{
		ID:        "fs1",
		ProductID: "p1",
		Total:     100,
		StartAt:   start,
		EndAt:     end,
		State:     StateScheduled,
	}
}

func TestEffectiveStateFollowsTimeWindow(t *testing.T) {
	now := time.Now()
	sale := saleWithWindow(now.Add(time.Hour), now.Add(2*time.Hour))

	assert.Equal(t, StateScheduled, sale.EffectiveState(now))
	assert.Equal(t, StateActive, sale.EffectiveState(now.Add(90*time.Minute)))
	assert.Equal(t, StateEnded, sale.EffectiveState(now.Add(3*time.Hour)))
}

func TestEffectiveStateWindowBoundaries(t *testing.T) {
	now := time.Now()
	sale := saleWithWindow(now, now.Add(time.Hour))

	// 开始时刻含，结束时刻不含
	assert.Equal(t, StateActive, sale.EffectiveState(now))
	assert.Equal(t, StateEnded, sale.EffectiveState(now.Add(time.Hour)))
}

func TestTerminalStatePersistsOverTime(t *testing.T) {
	now := time.Now()
	sale := saleWithWindow(now.Add(-time.Hour), now.Add(time.Hour))
	sale.State = StateSoldOut

	// 即便仍在窗口内，售罄就是售罄
	assert.Equal(t, StateSoldOut, sale.EffectiveState(now))
	assert.Equal(t, StateSoldOut, sale.EffectiveState(now.Add(2*time.Hour)))
}

func TestCancel(t *testing.T) {
	now := time.Now()
	sale := saleWithWindow(now, now.Add(time.Hour))
	require.NoError(t, sale.Cancel())
	assert.Equal(t, StateCancelled, sale.State)

	ended := saleWithWindow(now, now.Add(time.Hour))
	ended.State = StateEnded
	assert.ErrorIs(t, ended.Cancel(), ErrInvalidTransition)
}

func TestRemaining(t *testing.T) {
	sale := &FlashSale{Total: 100, Sold: 30, Reserved: 20}
	assert.Equal(t, int64(50), sale.Remaining())
}
