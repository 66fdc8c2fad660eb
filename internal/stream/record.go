// Package stream encodes pipeline events as newline-delimited JSON records
// and decodes them incrementally on the consumer side.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/xiaot623/lazarus/internal/domain"
)

// Record is the wire form of one event.
type Record struct {
	Type    domain.EventType   `json:"type"`
	Content string             `json:"content,omitempty"`
	Kind    domain.FailureKind `json:"kind,omitempty"`
	Data    *ResultData        `json:"data,omitempty"`
}

// ResultData is the payload of a result record.
type ResultData struct {
	Artifacts  []domain.Artifact   `json:"artifacts"`
	Preview    *string             `json:"preview"`
	PreviewURL string              `json:"preview_url,omitempty"`
	Status     domain.ResultStatus `json:"status"`
	Logs       string              `json:"logs"`
}

// ToRecord converts an event to its wire record.
func ToRecord(e domain.Event) Record {
	switch ev := e.(type) {
	case domain.LogEvent:
		return Record{Type: domain.EventTypeLog, Content: ev.Message}
	case domain.DebugEvent:
		return Record{Type: domain.EventTypeDebug, Content: ev.Message}
	case domain.ResultEvent:
		artifacts := []domain.Artifact(ev.Artifacts)
		if artifacts == nil {
			artifacts = []domain.Artifact{}
		}
		return Record{Type: domain.EventTypeResult, Data: &ResultData{
			Artifacts:  artifacts,
			Preview:    ev.Preview,
			PreviewURL: ev.PreviewURL,
			Status:     ev.Status,
			Logs:       ev.Logs,
		}}
	case domain.FailureEvent:
		return Record{Type: domain.EventTypeFailure, Content: ev.Reason, Kind: ev.Kind}
	}
	panic(fmt.Sprintf("stream: unknown event %T", e))
}

// FromRecord converts a wire record to an event.
func FromRecord(r Record) (domain.Event, error) {
	switch r.Type {
	case domain.EventTypeLog:
		return domain.LogEvent{Message: r.Content}, nil
	case domain.EventTypeDebug:
		return domain.DebugEvent{Message: r.Content}, nil
	case domain.EventTypeResult:
		if r.Data == nil {
			return nil, fmt.Errorf("result record without data")
		}
		return domain.ResultEvent{
			Artifacts:  domain.Artifacts(r.Data.Artifacts),
			Preview:    r.Data.Preview,
			PreviewURL: r.Data.PreviewURL,
			Status:     r.Data.Status,
			Logs:       r.Data.Logs,
		}, nil
	case domain.EventTypeFailure:
		return domain.FailureEvent{Reason: r.Content, Kind: r.Kind}, nil
	}
	return nil, fmt.Errorf("unknown record type %q", r.Type)
}

// Marshal returns the newline-terminated wire form of an event.
func Marshal(e domain.Event) ([]byte, error) {
	data, err := json.Marshal(ToRecord(e))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return append(data, '\n'), nil
}

// Unmarshal parses one record, with or without its trailing newline.
func Unmarshal(line []byte) (domain.Event, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, fmt.Errorf("malformed record: %w", err)
	}
	return FromRecord(r)
}
