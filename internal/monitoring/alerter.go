// Package monitoring turns run results into alerts delivered to a webhook.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newswire/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCommitFailure    AlertType = "commit_failure"
	AlertAllSourcesFailed AlertType = "all_sources_failed"
	AlertItemFailureRate  AlertType = "item_failure_rate"
	AlertRunAborted       AlertType = "run_aborted"
)

const (
	// minItemsForRateAlert keeps one failure in a tiny run from alerting.
	minItemsForRateAlert   = 4
	defaultFailureRateWarn = 0.5
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	RunID     string         `json:"run_id"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = defaultFailureRateWarn
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Published but not recorded: the item may republish next run.
	if snap.CommitFailures > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertCommitFailure,
			Severity: "critical",
			Message: fmt.Sprintf(
				"%d published item(s) could not be recorded in the novelty store and may republish",
				snap.CommitFailures,
			),
			RunID:     snap.RunID,
			Details:   map[string]any{"commit_failures": snap.CommitFailures},
			Timestamp: now,
		})
	}

	if snap.Sources > 0 && snap.SourcesFailed == snap.Sources {
		alerts = append(alerts, Alert{
			Type:     AlertAllSourcesFailed,
			Severity: "high",
			Message: fmt.Sprintf("all %d sources failed to poll: %s",
				snap.Sources, strings.Join(snap.FailedSources, ", ")),
			RunID:     snap.RunID,
			Details:   map[string]any{"failed_sources": snap.FailedSources},
			Timestamp: now,
		})
	}

	attempted := snap.Published + snap.ItemsFailed
	if attempted >= minItemsForRateAlert && snap.ItemFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertItemFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Item failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted)",
				snap.ItemFailRate*100, a.cfg.FailureRateThreshold*100, snap.ItemsFailed, attempted,
			),
			RunID: snap.RunID,
			Details: map[string]any{
				"failure_rate": snap.ItemFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"by_kind":      snap.FailuresByKind,
			},
			Timestamp: now,
		})
	}

	if snap.Aborted {
		alerts = append(alerts, Alert{
			Type:      AlertRunAborted,
			Severity:  "medium",
			Message:   fmt.Sprintf("run stopped before all scheduled slots ran; %d processed", snap.Scheduled),
			RunID:     snap.RunID,
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
