package monitor

import (
	"fmt"
	"time"
)

// AlertType names the metric that breached its threshold.
type AlertType string

const (
	AlertErrorRate      AlertType = "error_rate"
	AlertBacklog        AlertType = "backlog"
	AlertProcessingTime AlertType = "processing_time"
)

// Severity classifies how urgent an alert is.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one threshold breach. Alerts are derived from current
// metrics and never persisted as authoritative state.
type Alert struct {
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Queue     string    `json:"queue"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// deriveAlerts returns one alert per breached threshold.
func deriveAlerts(rec *Record, now time.Time) []Alert {
	var alerts []Alert

	if rec.ErrorRate > ErrorRateThreshold {
		alerts = append(alerts, Alert{
			Type:      AlertErrorRate,
			Severity:  SeverityCritical,
			Queue:     rec.Queue,
			Message:   fmt.Sprintf("queue %s error rate %.2f exceeds %.2f", rec.Queue, rec.ErrorRate, ErrorRateThreshold),
			Value:     rec.ErrorRate,
			Threshold: ErrorRateThreshold,
			Timestamp: now,
		})
	}

	if waiting := rec.Counts["waiting"]; waiting > BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:      AlertBacklog,
			Severity:  SeverityWarning,
			Queue:     rec.Queue,
			Message:   fmt.Sprintf("queue %s backlog %d exceeds %d", rec.Queue, waiting, BacklogThreshold),
			Value:     float64(waiting),
			Threshold: BacklogThreshold,
			Timestamp: now,
		})
	}

	if rec.AvgProcessingTimeMs > ProcessingTimeThresholdMs {
		alerts = append(alerts, Alert{
			Type:      AlertProcessingTime,
			Severity:  SeverityWarning,
			Queue:     rec.Queue,
			Message:   fmt.Sprintf("queue %s average processing time %.0fms exceeds %dms", rec.Queue, rec.AvgProcessingTimeMs, ProcessingTimeThresholdMs),
			Value:     rec.AvgProcessingTimeMs,
			Threshold: ProcessingTimeThresholdMs,
			Timestamp: now,
		})
	}

	return alerts
}
