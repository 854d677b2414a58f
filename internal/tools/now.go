package tools

import (
	"context"
	"encoding/json"
	"time"
)

// NowTool reports the current local time.
type NowTool struct{}

// NewNowTool creates a now tool.
func NewNowTool() *NowTool { return &NowTool{} }

func (t *NowTool) Name() string { return "now" }

func (t *NowTool) Description() string {
	return "Get the current date, time, timezone, and unix timestamp. Useful for time-aware operations and timestamp generation."
}

func (t *NowTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {}
	}`)
}

func (t *NowTool) Permission() Permission { return ReadOnly }

func (t *NowTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	now := time.Now()
	zone, _ := now.Zone()
	return map[string]any{
		"datetime":       now.Format("2006-01-02 15:04:05"),
		"date":           now.Format("2006-01-02"),
		"time":           now.Format("15:04:05"),
		"timezone":       zone,
		"utc_offset":     now.Format("-07:00"),
		"unix_timestamp": now.Unix(),
		"iso8601":        now.Format(time.RFC3339),
		"day_of_week":    now.Weekday().String(),
	}, nil
}
