package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prehled-vlaku/poller/internal/db"
)

func TestToExport(t *testing.T) {
	export := toExport("2024-05-01", []db.CarrierStats{
		{Carrier: "RegioJet", JourneyCount: 4, OnTimeCount: 3, DelayedCount: 1, DelayMean: 5.5, MaxDelayMinutes: 20},
		{Carrier: "empty"},
	})

	require.Len(t, export.Carriers, 2)
	assert.Equal(t, 75.0, export.Carriers[0].OnTimePercent)
	assert.Zero(t, export.Carriers[1].OnTimePercent)

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, export))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "2024-05-01", decoded["serviceDay"])
}
