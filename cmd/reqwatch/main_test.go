package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/codeMaster/reqtrace/internal/client"
	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/codeMaster/reqtrace/internal/protocol"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080": "ws://localhost:8080/ws",
		"https://example.com/":  "wss://example.com/ws",
		"http://host/prefix":    "ws://host/prefix/ws",
		"ws://already:1":        "ws://already:1/ws",
	}
	for in, want := range cases {
		got, err := websocketURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := websocketURL("ftp://x")
	assert.Error(t, err)
}

func TestPrinter(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	p := &printer{out: &buf}

	p.state(client.Registered)
	p.update(protocol.UpdatePayload{
		Seq: 3, EntityKind: model.EntityRequirement, EntityID: "A", Operation: model.OpUpdated,
		Timestamp: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	})
	p.requirement(&model.Requirement{
		ID: "A", Title: "Login", Type: model.TypeFunctional, Priority: model.PriorityHigh, Status: model.StatusNew,
		Tags:           []string{"auth"},
		LastValidation: &model.ValidationReport{Score: 0.5},
	}, nil)

	out := buf.String()
	assert.Contains(t, out, "-- registered")
	assert.Contains(t, out, "#3    09:30:00 updated  requirement A")
	assert.Contains(t, out, "Login (A)")
	assert.Contains(t, out, "tags=auth")
	assert.Contains(t, out, "validation=0.50 failed")
}
