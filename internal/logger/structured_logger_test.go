package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewStructuredLogger(LoggerConfig{Level: "debug", Format: "json", ServiceName: "zonetrust", Output: &buf})

	ctx := WithCorrelationID(context.Background(), "cid-123")
	log.WithFields(map[string]interface{}{"entity": "zone/old-town"}).
		Error(ctx, "transition failed", errors.New("boom"), map[string]interface{}{"state": "OFFLINE"})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "transition failed", line["msg"])
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "zonetrust", line["service"])
	assert.Equal(t, "zone/old-town", line["entity"])
	assert.Equal(t, "OFFLINE", line["state"])
	assert.Equal(t, "cid-123", line["correlation_id"])
	assert.Equal(t, "boom", line["error"])
}

func TestStructuredLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := NewStructuredLogger(LoggerConfig{Level: "warn", Format: "json", Output: &buf})

	log.Info(context.Background(), "hidden", nil)
	assert.Empty(t, buf.String())

	log.Warn(context.Background(), "shown", nil)
	assert.Contains(t, buf.String(), "shown")
}
