package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsCurrent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	active := &Subscription{Status: SubscriptionActive, CurrentPeriodEnd: now.Add(time.Hour)}
	assert.True(t, active.IsCurrent(now))

	// "active" in the store but the paid period already ended.
	lapsed := &Subscription{Status: SubscriptionActive, CurrentPeriodEnd: now.Add(-time.Minute)}
	assert.False(t, lapsed.IsCurrent(now))

	pastDue := &Subscription{Status: SubscriptionPastDue, CurrentPeriodEnd: now.Add(time.Hour)}
	assert.False(t, pastDue.IsCurrent(now))

	var none *Subscription
	assert.False(t, none.IsCurrent(now))
	assert.Nil(t, none.Summary())
}
