// Package metrics registers the scanner's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksCompleted counts finished scans by their resulting action.
	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailsift_tasks_completed_total",
		Help: "Finished message scans, by resulting action.",
	}, []string{"action"})

	// StagesCompleted counts pipeline stages that ran to completion.
	StagesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailsift_stages_completed_total",
		Help: "Pipeline stages completed, by stage.",
	}, []string{"stage"})

	// DNSRequests counts DNS requests issued on behalf of tasks.
	DNSRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailsift_dns_requests_total",
		Help: "DNS requests issued by task collaborators.",
	})

	// MessageBytes accounts loaded message sizes.
	MessageBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailsift_message_bytes_total",
		Help: "Bytes of message bodies loaded for scanning.",
	})
)
