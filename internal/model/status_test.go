package model_test

import (
	"testing"

	"catersync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_ForwardPath(t *testing.T) {
	path := []model.Status{
		model.StatusDraft,
		model.StatusConfirmed,
		model.StatusAssigned,
		model.StatusArrivedAtVendor,
		model.StatusEnRouteToClient,
		model.StatusArrivedToClient,
		model.StatusCompleted,
	}
	for i := 0; i+1 < len(path); i++ {
		assert.True(t, path[i].CanTransitionTo(path[i+1]), "%s -> %s", path[i], path[i+1])
		next, ok := path[i].Next()
		require.True(t, ok)
		assert.Equal(t, path[i+1], next)
	}
	_, ok := model.StatusCompleted.Next()
	assert.False(t, ok)
}

func TestStatus_NoSkippingOrGoingBack(t *testing.T) {
	assert.False(t, model.StatusDraft.CanTransitionTo(model.StatusAssigned))
	assert.False(t, model.StatusAssigned.CanTransitionTo(model.StatusConfirmed))
	assert.False(t, model.StatusConfirmed.CanTransitionTo(model.StatusConfirmed))
}

func TestStatus_CancelFromAnyNonTerminal(t *testing.T) {
	for _, s := range model.Statuses() {
		if s.IsTerminal() {
			assert.False(t, s.CanTransitionTo(model.StatusCancelled), s)
			continue
		}
		assert.True(t, s.CanTransitionTo(model.StatusCancelled), s)
	}
}

func TestStatus_TerminalIsFrozen(t *testing.T) {
	for _, from := range []model.Status{model.StatusCompleted, model.StatusCancelled} {
		for _, to := range model.Statuses() {
			assert.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestParseStatus(t *testing.T) {
	s, err := model.ParseStatus("EN_ROUTE_TO_CLIENT")
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnRouteToClient, s)

	_, err = model.ParseStatus("en_route")
	require.Error(t, err)
	assert.False(t, model.Status("").Valid())
}
