package api

import (
	"github.com/skobkin/erwait-web/internal/sampler"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type             string          `json:"type"`
	IntervalMS       int             `json:"interval_ms"`
	HistoryMaxPoints int             `json:"history_max_points"`
	Features         map[string]bool `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervalMS, historyMaxPoints int, features map[string]bool) HelloMessage {
	return HelloMessage{
		Type:             "hello",
		IntervalMS:       intervalMS,
		HistoryMaxPoints: historyMaxPoints,
		Features:         features,
	}
}

// StatsMessage wraps one sample for transport.
type StatsMessage struct {
	Type string `json:"type"`
	sampler.Sample
}

// NewStatsMessage constructs a stats payload.
func NewStatsMessage(sample sampler.Sample) StatsMessage {
	return StatsMessage{
		Type:   "stats",
		Sample: sample,
	}
}

// HistoryMessage carries the retained samples, oldest first.
type HistoryMessage struct {
	Type    string           `json:"type"`
	Samples []sampler.Sample `json:"samples"`
}

// NewHistoryMessage constructs a history payload.
func NewHistoryMessage(samples []sampler.Sample) HistoryMessage {
	return HistoryMessage{
		Type:    "history",
		Samples: samples,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
