package entities

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTransitionAllowsCollapsedMarketOrderPath(t *testing.T) {
	o := &Order{OrderID: "o1", Status: OrderStatusPending}
	err := o.Transition(OrderStatusCompleted, ActorSystem)
	assert.NoError(t, err)
	assert.Equal(t, OrderStatusCompleted, o.Status)
}

func TestTransitionRejectsFromTerminalState(t *testing.T) {
	o := &Order{OrderID: "o1", Status: OrderStatusCompleted}
	err := o.Transition(OrderStatusPending, ActorSystem)
	assert.Error(t, err)
}

func TestTransitionRejectsUserSettingFailed(t *testing.T) {
	o := &Order{OrderID: "o1", Status: OrderStatusPending}
	err := o.Transition(OrderStatusFailed, ActorUser)
	assert.Error(t, err)
}

func TestTransitionAllowsSystemSettingFailed(t *testing.T) {
	o := &Order{OrderID: "o1", Status: OrderStatusPending}
	err := o.Transition(OrderStatusFailed, ActorSystem)
	assert.NoError(t, err)
	assert.Equal(t, OrderStatusFailed, o.Status)
}

func TestTransitionRejectsUserCancellingProcessing(t *testing.T) {
	o := &Order{OrderID: "o1", Status: OrderStatusProcessing}
	err := o.Transition(OrderStatusCancelled, ActorUser)
	assert.Error(t, err)
}

func TestTransitionAllowsUserCancellingPending(t *testing.T) {
	o := &Order{OrderID: "o1", Status: OrderStatusPending}
	err := o.Transition(OrderStatusCancelled, ActorUser)
	assert.NoError(t, err)
}

func TestAssetValidRejectsActiveZeroPrice(t *testing.T) {
	a := Asset{AssetID: "DEAD", PriceUSD: decimal.Zero, IsActive: true}
	assert.False(t, a.Valid())
}

func TestAssetValidAcceptsInactiveZeroPrice(t *testing.T) {
	a := Asset{AssetID: "DEAD", PriceUSD: decimal.Zero, IsActive: false}
	assert.True(t, a.Valid())
}
