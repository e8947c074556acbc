// Package model defines core types for vdt: captured events, the analysis
// findings derived from them (windows, clusters, suspects, chunks), sessions,
// and the reasoner task/result contract.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Level is the severity of a captured event.
type Level string

// Event levels, lowest to highest.
const (
	LevelTrace Level = "trace"
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// Event is one structured line of captured execution telemetry.
type Event struct {
	TS     int64  `json:"ts"`
	Level  Level  `json:"level"`
	Module string `json:"module"`
	Func   string `json:"func"`
	Msg    string `json:"msg"`
	KV     KV     `json:"kv"`
}

// IsError reports whether the event was logged at error level.
func (e Event) IsError() bool {
	return e.Level == LevelError
}

// Key returns the "module:func" cluster key of the event.
func (e Event) Key() string {
	return e.Module + ":" + e.Func
}

// Pair is a single key/value entry of a KV.
type Pair struct {
	Key   string
	Value any
}

// KV is an ordered map of string keys to arbitrary JSON values. It decodes
// from and encodes to a JSON object, preserving key order.
type KV []Pair

// Get returns the value stored under key.
func (kv KV) Get(key string) (any, bool) {
	for _, p := range kv {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes kv as a JSON object in insertion order.
func (kv KV) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range kv {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, fmt.Errorf("kv %q: %w", p.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into kv, keeping the key order of the
// input. A JSON null leaves kv empty.
func (kv *KV) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*kv = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("kv: expected object, got %v", tok)
	}
	out := KV{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("kv: expected string key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("kv %q: %w", key, err)
		}
		var v any
		vdec := json.NewDecoder(bytes.NewReader(raw))
		vdec.UseNumber()
		if err := vdec.Decode(&v); err != nil {
			return fmt.Errorf("kv %q: %w", key, err)
		}
		out = append(out, Pair{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*kv = out
	return nil
}

// Session is a debugging session: one capture directory plus its analysis
// artifacts.
type Session struct {
	ID        string    `json:"sid"`
	RepoRoot  string    `json:"repo_root"`
	Note      string    `json:"note,omitempty"`
	TTLDays   int       `json:"ttl_days"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionError is one entry in a session's error log.
type SessionError struct {
	SessionID string    `json:"sid"`
	Tool      string    `json:"tool"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolResponse is the envelope returned to callers of an operation. Failures
// set IsError, Message and Hint; successes carry Data.
type ToolResponse struct {
	IsError bool   `json:"isError,omitempty"`
	Message string `json:"message,omitempty"`
	Hint    string `json:"hint,omitempty"`
	Data    any    `json:"data,omitempty"`
}
