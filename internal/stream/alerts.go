package stream

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/metrics"
	"kyoto-terminal/internal/models"
	"kyoto-terminal/internal/notify"
)

// AlertCondition represents the type of alert condition.
type AlertCondition string

const (
	// AlertConditionAbove triggers when net cost is at or above the level.
	AlertConditionAbove AlertCondition = "above"
	// AlertConditionBelow triggers when net cost is at or below the level.
	AlertConditionBelow AlertCondition = "below"
	// AlertConditionCrossAbove triggers when net cost crosses up through the level.
	AlertConditionCrossAbove AlertCondition = "cross_above"
	// AlertConditionCrossBelow triggers when net cost crosses down through the level.
	AlertConditionCrossBelow AlertCondition = "cross_below"
)

// Alert watches one tile's signed net cost: debits are positive, credits
// negative. An alert fires once and is then removed.
type Alert struct {
	ID          string         `json:"id"`
	TileID      int            `json:"tile_id"`
	Condition   AlertCondition `json:"condition"`
	Level       float64        `json:"level"`
	Triggered   bool           `json:"triggered"`
	TriggeredAt *time.Time     `json:"triggered_at,omitempty"`
}

func (a Alert) String() string {
	return fmt.Sprintf("tile #%d %s %.2f", a.TileID, a.Condition, a.Level)
}

// ParseAlert reads "tile:condition:level", e.g. "3:below:-20".
func ParseAlert(s string) (Alert, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return Alert{}, apperrors.NewValidationError("alert", s, "expected tile:condition:level")
	}
	tile, err := strconv.Atoi(strings.TrimPrefix(parts[0], "#"))
	if err != nil || tile < 1 {
		return Alert{}, apperrors.NewValidationError("alert", s, "tile must be a positive id")
	}
	cond := AlertCondition(strings.ToLower(strings.TrimSpace(parts[1])))
	switch cond {
	case AlertConditionAbove, AlertConditionBelow, AlertConditionCrossAbove, AlertConditionCrossBelow:
	default:
		return Alert{}, apperrors.NewValidationError("alert", s, "condition must be above, below, cross_above or cross_below")
	}
	level, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return Alert{}, apperrors.NewValidationError("alert", s, "level must be a number")
	}
	return Alert{TileID: tile, Condition: cond, Level: level}, nil
}

// AlertMonitor checks published frames against net-cost alerts.
type AlertMonitor struct {
	notifier notify.Notifier
	logger   zerolog.Logger

	mu     sync.Mutex
	alerts map[int][]*Alert // tile id -> alerts
	nextID int

	// Previous net cost per tile for cross-type alerts.
	prev map[int]float64
}

// NewAlertMonitor creates a new alert monitor. A nil notifier discards notifications.
func NewAlertMonitor(notifier notify.Notifier, logger *zerolog.Logger) *AlertMonitor {
	if notifier == nil {
		notifier = notify.NoOpNotifier{}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &AlertMonitor{
		notifier: notifier,
		logger:   l,
		alerts:   make(map[int][]*Alert),
		prev:     make(map[int]float64),
	}
}

// AddAlert adds a new alert to monitor and returns it with its id.
func (m *AlertMonitor) AddAlert(alert Alert) Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	alert.ID = fmt.Sprintf("ALT-%d", m.nextID)
	alert.Triggered = false
	alert.TriggeredAt = nil
	a := alert
	m.alerts[a.TileID] = append(m.alerts[a.TileID], &a)
	return a
}

// RemoveAlert removes an alert by ID.
func (m *AlertMonitor) RemoveAlert(alertID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(alertID)
}

func (m *AlertMonitor) removeLocked(alertID string) bool {
	for tile, alerts := range m.alerts {
		for i, a := range alerts {
			if a.ID != alertID {
				continue
			}
			m.alerts[tile] = append(alerts[:i], alerts[i+1:]...)
			if len(m.alerts[tile]) == 0 {
				delete(m.alerts, tile)
			}
			return true
		}
	}
	return false
}

// Alerts returns the pending alerts ordered by id.
func (m *AlertMonitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Alert
	for _, alerts := range m.alerts {
		for _, a := range alerts {
			out = append(out, *a)
		}
	}
	sortAlerts(out)
	return out
}

// Count returns the number of pending alerts.
func (m *AlertMonitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, alerts := range m.alerts {
		n += len(alerts)
	}
	return n
}

// Check evaluates every result in frame and returns the alerts that fired.
// WAITING tiles have no net cost and are skipped.
func (m *AlertMonitor) Check(ctx context.Context, frame models.Frame) []Alert {
	type firing struct {
		alert  Alert
		result models.ValuationResult
	}
	var pending []firing

	m.mu.Lock()
	for _, r := range frame.Results {
		if r.Status == models.StatusWaiting {
			continue
		}
		net := r.NetCost()
		prev, hasPrev := m.prev[r.TileID]
		m.prev[r.TileID] = net

		for _, a := range append([]*Alert(nil), m.alerts[r.TileID]...) {
			if !isTriggered(*a, net, prev, hasPrev) {
				continue
			}
			now := frame.At
			if now.IsZero() {
				now = time.Now()
			}
			a.Triggered = true
			a.TriggeredAt = &now
			m.removeLocked(a.ID)
			pending = append(pending, firing{alert: *a, result: r})
		}
	}
	m.mu.Unlock()

	fired := make([]Alert, 0, len(pending))
	for _, p := range pending {
		fired = append(fired, p.alert)
		metrics.AlertsTriggered.Inc()
		m.logger.Info().
			Str("alert", p.alert.ID).
			Int("tile", p.alert.TileID).
			Float64("net_cost", p.result.NetCost()).
			Msg("Alert triggered")

		n := notify.Notification{
			Title:     "Kyoto alert",
			Message:   fmt.Sprintf("%s %s %s %s", p.result.Underlying, p.result.Strategy, p.alert.Condition, describeLevel(p.alert.Level)),
			TileID:    p.alert.TileID,
			NetCost:   p.result.NetCost(),
			Level:     p.alert.Level,
			Timestamp: *p.alert.TriggeredAt,
		}
		if err := m.notifier.Notify(ctx, n); err != nil {
			m.logger.Warn().Err(err).Str("alert", p.alert.ID).Msg("Failed to send alert notification")
		}
	}
	return fired
}

// Run checks every frame from frames until the channel closes or ctx is done.
func (m *AlertMonitor) Run(ctx context.Context, frames <-chan models.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			m.Check(ctx, frame)
		}
	}
}

func isTriggered(a Alert, net, prev float64, hasPrev bool) bool {
	switch a.Condition {
	case AlertConditionAbove:
		return net >= a.Level
	case AlertConditionBelow:
		return net <= a.Level
	case AlertConditionCrossAbove:
		return hasPrev && prev < a.Level && net >= a.Level
	case AlertConditionCrossBelow:
		return hasPrev && prev > a.Level && net <= a.Level
	}
	return false
}

func describeLevel(level float64) string {
	if level < 0 {
		return fmt.Sprintf("%.2f CREDIT", -level)
	}
	return fmt.Sprintf("%.2f DEBIT", level)
}

func sortAlerts(alerts []Alert) {
	id := func(a Alert) int {
		n, _ := strconv.Atoi(strings.TrimPrefix(a.ID, "ALT-"))
		return n
	}
	sort.Slice(alerts, func(i, j int) bool { return id(alerts[i]) < id(alerts[j]) })
}
