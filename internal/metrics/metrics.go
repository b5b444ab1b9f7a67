// Package metrics 监控指标（Prometheus）
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobRunsTotal 任务执行次数（result: success / failed / skipped）
	JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loan_monitor_job_runs_total",
		Help: "Total job runs by job and result",
	}, []string{"job", "result"})

	// JobDuration 任务耗时
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loan_monitor_job_duration_seconds",
		Help:    "Job run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"job"})

	// ScanRecordErrorsTotal 扫描中单条记录失败次数
	ScanRecordErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loan_monitor_scan_record_errors_total",
		Help: "Per-record failures recorded by scans",
	}, []string{"job"})

	// AlertsCreatedTotal 新建报警
	AlertsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loan_monitor_alerts_created_total",
		Help: "Alerts created by type and priority",
	}, []string{"type", "priority"})

	// AlertsEscalatedTotal 报警升级
	AlertsEscalatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loan_monitor_alerts_escalated_total",
		Help: "Alerts escalated by type and new priority",
	}, []string{"type", "priority"})

	// AlertsResolvedTotal 报警处理
	AlertsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loan_monitor_alerts_resolved_total",
		Help: "Alerts resolved by type",
	}, []string{"type"})

	// AuditWriteFailuresTotal 审计日志写入失败（处理结果不回滚）
	AuditWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loan_monitor_audit_write_failures_total",
		Help: "Alert audit log writes that failed after a successful resolution",
	})

	// ReportWarningsTotal 报告子项降级为零值的次数
	ReportWarningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loan_monitor_report_warnings_total",
		Help: "Report sub-aggregates replaced with zero values",
	}, []string{"report_type"})
)
