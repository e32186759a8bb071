package storage

import "time"

// EventWriter persists completed-operation events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *OperationEvent)
	Close()
}

// OperationEvent is one completed tool operation.
type OperationEvent struct {
	OperationID     string
	ToolName        string
	ClientID        string
	StartedAt       time.Time
	CompletedAt     time.Time
	ExecutionTimeMs float32
	Success         bool
	ResultSize      uint64
	Error           string
	Source          string
}

// NopWriter discards every event.
type NopWriter struct{}

func (NopWriter) Write(*OperationEvent) {}
func (NopWriter) Close()                {}
