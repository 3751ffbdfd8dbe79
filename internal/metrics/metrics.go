// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal 记录 HTTP 请求的总数
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"}, // 按路径、方法、状态码分类
	)

	// RowsTotal 记录行的处理结果
	RowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_rows_total",
			Help: "Total number of rows by outcome.",
		},
		[]string{"outcome"}, // accepted / stored / failed / dropped / unsent
	)

	// InsertDuration 记录每个子批次写入耗时
	InsertDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatcher_insert_duration_seconds",
			Help:    "Duration of destination resolution plus insert for one sub-batch.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// QueueLength 队列中等待发送的行数
	QueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_queue_length",
			Help: "Rows waiting in the dispatcher queue, sampled after each insert.",
		},
	)

	// Draining 标记当前实例是否正在关闭
	Draining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_draining",
			Help: "1 once the dispatcher started draining, 0 otherwise.",
		},
	)

	// TaskRunsTotal 记录定时任务的执行次数
	TaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_task_runs_total",
			Help: "Total number of scheduled task runs.",
		},
		[]string{"task", "status"}, // success / failed / skipped
	)

	// IngestMessagesTotal 记录消息入口收到的消息数
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Total number of messages received by ingest transports.",
		},
		[]string{"transport", "status"},
	)
)

const (
	OutcomeAccepted = "accepted"
	OutcomeStored   = "stored"
	OutcomeFailed   = "failed"
	OutcomeDropped  = "dropped"
	OutcomeUnsent   = "unsent"
)
