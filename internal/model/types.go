package model

import (
	"encoding/json"
	"time"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	TxHash  string `json:"tx_hash,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Command   string      `json:"command"`
	Service   string      `json:"service,omitempty"`
	Cache     CacheStatus `json:"cache"`
	Partial   bool        `json:"partial"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

// OperationResult is the data of a successful write command.
type OperationResult struct {
	Operation string `json:"operation"`
	ActionID  string `json:"action_id,omitempty"`
	ChainID   int64  `json:"chain_id"`
	TxHash    string `json:"tx_hash"`
	Status    string `json:"status"`
	Steps     int    `json:"steps"`
}

// QueryResult is the data of a read command. Value is passed through as the
// service returned it.
type QueryResult struct {
	Query     string          `json:"query"`
	Variables map[string]any  `json:"variables"`
	Value     json.RawMessage `json:"value"`
}
