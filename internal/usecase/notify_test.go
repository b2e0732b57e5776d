//go:build !integration

package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/infra/metrics"
)

func transitionCount(t *testing.T, from, to string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "licensing_subscription_transitions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["from"] == from && labels["to"] == to {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestOutbox_TransitionsCountedOnlyWhenFlushed(t *testing.T) {
	metrics.MustRegister()
	log := zerolog.Nop()
	n := &notifier{log: &log}
	ob := newOutbox()
	tr := model.SubscriptionTransition{
		SubscriptionID: "sub-1",
		TenantID:       9,
		From:           model.SubscriptionStatusSuspended,
		To:             model.SubscriptionStatusCancelled,
		Event:          model.EventCancelled,
		At:             time.Now(),
	}
	before := transitionCount(t, "suspended", "cancelled")

	// a rolled-back attempt
	ob.transition(tr)
	ob.reset()
	assert.Equal(t, before, transitionCount(t, "suspended", "cancelled"))

	ob.transition(tr)
	assert.Equal(t, before, transitionCount(t, "suspended", "cancelled"))
	n.flush(context.Background(), ob)
	assert.Equal(t, before+1, transitionCount(t, "suspended", "cancelled"))
}
