// Package alerter evaluates threshold rules against the live connection
// table and sends a consolidated notification when any of them fire.
package alerter

import (
	"TCPScope/internal/config"
	"TCPScope/internal/engine/lifecycle"
	"TCPScope/internal/model"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const topDestinations = 5

// SnapshotSource provides the connection table to evaluate.
type SnapshotSource interface {
	Snapshot() lifecycle.Snapshot
}

// Alerter periodically checks rules and notifies on violations.
type Alerter struct {
	source        SnapshotSource
	rules         []config.AlerterRule
	notifier      model.Notifier
	checkInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// NewAlerter creates a new Alerter instance.
func NewAlerter(cfg *config.AlerterConfig, source SnapshotSource, notifier model.Notifier) (*Alerter, error) {
	interval, err := time.ParseDuration(cfg.CheckInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid check_interval for alerter: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("alerter check_interval must be a positive duration")
	}
	for _, rule := range cfg.Rules {
		if _, ok := metricUnits[rule.Metric]; !ok {
			return nil, fmt.Errorf("alerter rule '%s': unknown metric '%s'", rule.Name, rule.Metric)
		}
	}

	return &Alerter{
		source:        source,
		rules:         cfg.Rules,
		notifier:      notifier,
		checkInterval: interval,
		stopChan:      make(chan struct{}),
	}, nil
}

// Start begins the periodic evaluation of alert rules.
func (a *Alerter) Start() {
	log.Printf("Alerter started with %d rule(s), checking every %s", len(a.rules), a.checkInterval)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				a.evaluate()
			case <-a.stopChan:
				return
			}
		}
	}()
}

// Stop ends the evaluation loop and runs one final check.
func (a *Alerter) Stop() {
	log.Println("Stopping Alerter...")
	close(a.stopChan)
	a.wg.Wait()
	a.evaluate()
}

// Metrics computes the rule metrics of a snapshot.
func Metrics(snap lifecycle.Snapshot) map[string]float64 {
	var open, closed float64
	for _, c := range snap.Connections {
		if c.Record.State == lifecycle.StateOpen {
			open++
		} else {
			closed++
		}
	}
	total := open + closed
	ratio := 0.0
	if total > 0 {
		ratio = open / total
	}
	return map[string]float64{
		"open_connections":   open,
		"closed_connections": closed,
		"total_connections":  total,
		"open_ratio":         ratio,
	}
}

var metricUnits = map[string]string{
	"open_connections":   "connections",
	"closed_connections": "connections",
	"total_connections":  "connections",
	"open_ratio":         "",
}

// Evaluate returns one HTML fragment per triggered rule.
func (a *Alerter) Evaluate(snap lifecycle.Snapshot) []string {
	values := Metrics(snap)

	var triggered []string
	for _, rule := range a.rules {
		current := values[rule.Metric]
		if !check(current, rule.Threshold, rule.Operator) {
			continue
		}

		msg := fmt.Sprintf("<h3>Alert: %s</h3>"+
			"<ul>"+
			"<li><b>Metric:</b> <code>%s</code></li>"+
			"<li><b>Condition:</b> <code>%s %.2f</code></li>"+
			"<li><b>Observed Value:</b> <code>%s</code></li>"+
			"</ul>",
			rule.Name, rule.Metric, rule.Operator, rule.Threshold, formatValue(rule.Metric, current))
		if rule.Metric == "open_connections" || rule.Metric == "open_ratio" {
			msg += openByDestination(snap)
		}
		triggered = append(triggered, msg)
	}
	return triggered
}

func formatValue(metric string, v float64) string {
	if metric == "open_ratio" {
		return fmt.Sprintf("%.1f%%", v*100)
	}
	return fmt.Sprintf("%.0f %s", v, metricUnits[metric])
}

// openByDestination lists the responders holding the most open connections.
func openByDestination(snap lifecycle.Snapshot) string {
	counts := make(map[netip.AddrPort]int)
	for _, c := range snap.Connections {
		if c.Record.State == lifecycle.StateOpen {
			counts[c.Key.Dst()]++
		}
	}
	if len(counts) == 0 {
		return ""
	}

	dsts := make([]netip.AddrPort, 0, len(counts))
	for d := range counts {
		dsts = append(dsts, d)
	}
	sort.Slice(dsts, func(i, j int) bool {
		if counts[dsts[i]] != counts[dsts[j]] {
			return counts[dsts[i]] > counts[dsts[j]]
		}
		return dsts[i].Compare(dsts[j]) < 0
	})
	if len(dsts) > topDestinations {
		dsts = dsts[:topDestinations]
	}

	var b strings.Builder
	b.WriteString("<p>Open connections by destination:</p><ol>")
	for _, d := range dsts {
		fmt.Fprintf(&b, "<li><code>%s</code>: %d</li>", d, counts[d])
	}
	b.WriteString("</ol>")
	return b.String()
}

func (a *Alerter) evaluate() {
	messages := a.Evaluate(a.source.Snapshot())
	if len(messages) == 0 {
		return
	}

	log.Printf("Alerter evaluation completed. %d alert(s) triggered.", len(messages))

	body := "<h1>TCPScope Alert Summary</h1>" +
		"<p>The following alerts were triggered during the last check:</p><hr>" +
		strings.Join(messages, "<hr>")

	if a.notifier == nil {
		return
	}
	subject := fmt.Sprintf("TCPScope Alert Summary (%d Triggered)", len(messages))
	if err := a.notifier.Send(subject, body); err != nil {
		log.Errorf("Failed to send consolidated alert notification: %v", err)
	} else {
		log.Infof("Consolidated alert notification sent successfully.")
	}
}

// check compares a value against a threshold based on an operator.
func check(value, threshold float64, operator string) bool {
	switch operator {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case "=":
		return value == threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	default:
		log.Warnf("Unknown operator '%s' in alerter rule", operator)
		return false
	}
}
