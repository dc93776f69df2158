// Package metrics exposes Prometheus counters for the Conversia server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesInbound counts inbound channel messages per tenant.
	MessagesInbound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversia_messages_inbound_total",
		Help: "Inbound chat messages received from the channel.",
	}, []string{"tenant"})

	// RepliesSent counts outbound replies per tenant and outcome.
	RepliesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversia_replies_sent_total",
		Help: "Outbound replies emitted by the conversation engine.",
	}, []string{"tenant", "status"})

	// ConversationsStarted counts newly created conversations per tenant.
	ConversationsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversia_conversations_started_total",
		Help: "Conversations created on a party's first message.",
	}, []string{"tenant"})

	// AutoForwardHops counts blocks traversed by the auto-forward runner.
	AutoForwardHops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversia_autoforward_hops_total",
		Help: "Non-interactive blocks auto-forwarded without party input.",
	}, []string{"tenant"})

	// FlowLoads counts remote flow refreshes per tenant and outcome.
	FlowLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversia_flow_loads_total",
		Help: "Remote flow list refresh attempts.",
	}, []string{"tenant", "status"})

	// LifecycleNotifications counts conversation-started callbacks.
	LifecycleNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversia_lifecycle_notifications_total",
		Help: "Conversation-started callbacks posted to tenant sites.",
	}, []string{"tenant", "status"})
)
