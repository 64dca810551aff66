package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/RayYangTW/pdca/internal/events"
)

// displayRunEvent prints one engine event in a two-line format:
// icon, time, run id, type and message, then a metadata line.
func displayRunEvent(w io.Writer, event *events.Event) {
	if shouldSkipEvent(event) {
		return
	}

	icon := getEventIcon(event)
	severityColor := getSeverityColor(event.Severity)
	timestamp := event.Timestamp.Format("15:04:05")

	runID := color.New(color.FgGreen).Sprint(truncateString(event.RunID, 12))
	eventType := color.New(color.FgMagenta).Sprint(event.Type)

	maxMessageLen := 60 - len(string(event.Type))
	message := truncateString(event.Message, maxMessageLen)

	fmt.Fprintf(w, "%s [%s] %s %s: %s\n", icon, timestamp, runID, eventType, severityColor.Sprint(message))

	if metadata := extractEventMetadata(event); metadata != "" {
		fmt.Fprintf(w, "  %s\n", color.New(color.FgHiBlack).Sprint(metadata))
	} else {
		fmt.Fprintln(w)
	}
}

func getEventIcon(event *events.Event) string {
	switch event.Type {
	case events.EventTypeUsageRecorded:
		return "💰"
	case events.EventTypeBudgetWarning:
		return "⚠️"
	case events.EventTypeBudgetExceeded:
		return "🚨"
	case events.EventTypeRoundEvaluated:
		return "🔍"
	case events.EventTypeDecisionPending:
		return "⏸️"
	case events.EventTypeDecisionResolved:
		return "🎯"
	case events.EventTypeRunStopped:
		return "🏁"
	case events.EventTypeStatsReset:
		return "🧹"
	}

	switch event.Severity {
	case events.SeverityWarning:
		return "⚠️"
	case events.SeverityError:
		return "❌"
	case events.SeverityCritical:
		return "🔥"
	default:
		return "•"
	}
}

func getSeverityColor(severity events.EventSeverity) *color.Color {
	switch severity {
	case events.SeverityInfo:
		return color.New(color.FgCyan)
	case events.SeverityWarning:
		return color.New(color.FgYellow)
	case events.SeverityError:
		return color.New(color.FgRed)
	case events.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgWhite)
	}
}

// extractEventMetadata returns the key fields of an event, pipe-separated
func extractEventMetadata(event *events.Event) string {
	var fields []string

	switch event.Type {
	case events.EventTypeUsageRecorded:
		// usage: model | units | cost | running total
		fields = []string{
			getStringField(event.Data, "provider_model", "unknown"),
			fmt.Sprintf("%s units", formatUnits(getInt64Field(event.Data, "total_units", 0))),
			fmt.Sprintf("$%.4f", getFloatField(event.Data, "cost", 0)),
			fmt.Sprintf("total $%.4f", getFloatField(event.Data, "total_cost", 0)),
		}

	case events.EventTypeBudgetWarning, events.EventTypeBudgetExceeded:
		// budget: usage | spent | budget
		fields = []string{
			fmt.Sprintf("%.1f%% used", getFloatField(event.Data, "usage_percentage", 0)),
			fmt.Sprintf("$%.4f spent", getFloatField(event.Data, "total_cost", 0)),
		}
		if budget := getFloatField(event.Data, "budget", 0); budget > 0 {
			fields = append(fields, fmt.Sprintf("$%.2f budget", budget))
		}
		if units := getInt64Field(event.Data, "unit_budget", 0); units > 0 {
			fields = append(fields, fmt.Sprintf("%s unit budget", formatUnits(units)))
		}

	case events.EventTypeRoundEvaluated, events.EventTypeRunStopped:
		// round: quality | verdict | confidence | units
		verdict := "stop"
		if getBoolField(event.Data, "continue", false) {
			verdict = "continue"
		}
		fields = []string{
			fmt.Sprintf("quality %.0f%%", getFloatField(event.Data, "quality_score", 0)*100),
			verdict,
			fmt.Sprintf("%.0f%% confident", getFloatField(event.Data, "confidence", 0)*100),
			fmt.Sprintf("%s units", formatUnits(getInt64Field(event.Data, "total_units", 0))),
		}

	case events.EventTypeDecisionPending:
		// pending: decision id | quality
		fields = []string{
			truncateString(getStringField(event.Data, "decision_id", ""), 13),
			fmt.Sprintf("quality %.0f%%", getFloatField(event.Data, "quality_score", 0)*100),
		}

	case events.EventTypeDecisionResolved:
		answer := "declined"
		if getBoolField(event.Data, "approved", false) {
			answer = "approved"
		}
		fields = []string{
			truncateString(getStringField(event.Data, "decision_id", ""), 13),
			answer,
		}
	}

	return joinFields(fields)
}

func getStringField(data map[string]interface{}, key, defaultValue string) string {
	if val, ok := data[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}

// getInt64Field accepts the float64 values JSON decoding produces
func getInt64Field(data map[string]interface{}, key string, defaultValue int64) int64 {
	switch val := data[key].(type) {
	case float64:
		return int64(val)
	case int64:
		return val
	case int:
		return int64(val)
	}
	return defaultValue
}

func getFloatField(data map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := data[key].(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case int:
		return float64(val)
	}
	return defaultValue
}

func getBoolField(data map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := data[key].(bool); ok {
		return val
	}
	return defaultValue
}

// joinFields joins non-empty metadata fields with " | "
func joinFields(fields []string) string {
	nonEmpty := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			nonEmpty = append(nonEmpty, f)
		}
	}
	return strings.Join(nonEmpty, " | ")
}

// shouldSkipEvent hides per-record usage events unless verbose output is on
func shouldSkipEvent(event *events.Event) bool {
	return event.Type == events.EventTypeUsageRecorded && !showUsageEvents
}

// showUsageEvents is switched on by simulate --show-usage
var showUsageEvents bool

// truncateString truncates a string to maxLen, adding "..." if needed
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
