package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpjam/inspector/pkg/elicitation"
)

func TestElicitationRespond_Validation(t *testing.T) {
	s, _ := newTestServer(nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing request id", `{"action":"accept"}`},
		{"missing action", `{"requestId":"r1"}`},
		{"malformed json", `{"requestId":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s.Handler(), http.MethodPost, "/elicitation/respond", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestElicitationRespond_UnknownRequest(t *testing.T) {
	s, _ := newTestServer(nil)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/elicitation/respond",
		`{"requestId":"ghost","action":"decline"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeNotFound, body.Code)
}

func TestElicitationRespond_RoundTrip(t *testing.T) {
	s, deps := newTestServer(nil)

	type opened struct {
		res *elicitation.Resolution
		err error
	}
	done := make(chan opened, 1)
	go func() {
		res, err := deps.broker.Open(context.Background(), "srv1", "pick a name",
			json.RawMessage(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`))
		done <- opened{res, err}
	}()

	// Wait for the record to appear in the snapshot endpoint.
	var requestID string
	require.Eventually(t, func() bool {
		rec := doJSON(t, s.Handler(), http.MethodGet, "/elicitation", "")
		var records []elicitation.Record
		if json.Unmarshal(rec.Body.Bytes(), &records) != nil || len(records) == 0 {
			return false
		}
		requestID = records[0].RequestID
		return true
	}, time.Second, 10*time.Millisecond)

	// An accept that fails schema validation leaves the record open.
	rec := doJSON(t, s.Handler(), http.MethodPost, "/elicitation/respond",
		`{"requestId":"`+requestID+`","action":"accept","content":{"name":42}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A conforming accept resolves the blocked opener.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/elicitation/respond",
		`{"requestId":"`+requestID+`","action":"accept","content":{"name":"ada"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case got := <-done:
		require.NoError(t, got.err)
		assert.Equal(t, elicitation.ActionAccept, got.res.Action)
		assert.Equal(t, "ada", got.res.Content["name"])
	case <-time.After(time.Second):
		t.Fatal("opener never resolved")
	}

	// The record is gone; a second response gets NOT_FOUND.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/elicitation/respond",
		`{"requestId":"`+requestID+`","action":"decline"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
