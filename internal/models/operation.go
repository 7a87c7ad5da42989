package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// OperationType tags a pending mutation.
type OperationType string

const (
	OpCreate         OperationType = "create"
	OpUpdate         OperationType = "update"
	OpDelete         OperationType = "delete"
	OpUpdateInstance OperationType = "update_instance"
	OpDeleteInstance OperationType = "delete_instance"
	OpGetOrCreate    OperationType = "get_or_create"
	OpUpdateOrCreate OperationType = "update_or_create"
)

// OperationStatus is the lifecycle state of an operation.
type OperationStatus string

const (
	StatusInflight  OperationStatus = "inflight"
	StatusConfirmed OperationStatus = "confirmed"
	StatusRejected  OperationStatus = "rejected"
)

// OperationArgs carries upsert criteria: lookup selects an existing entity,
// defaults supply the fields written on match or insert.
type OperationArgs struct {
	Lookup   map[string]any `json:"lookup,omitempty"`
	Defaults map[string]any `json:"defaults,omitempty"`
}

// Operation records a single pending mutation. Treated as immutable by
// convention except for the status transition mutators below.
type Operation struct {
	ID        string          `json:"operation_id"`
	Type      OperationType   `json:"type"`
	Status    OperationStatus `json:"status"`
	Instances []Entity        `json:"instances"`
	Args      *OperationArgs  `json:"args,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix millis of last status change
}

// NewOperation builds an inflight operation with a fresh time-ordered id.
func NewOperation(t OperationType, instances ...Entity) *Operation {
	return &Operation{
		ID:        ulid.Make().String(),
		Type:      t,
		Status:    StatusInflight,
		Instances: instances,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Confirm marks the operation confirmed, replacing its instances with the
// server-returned payloads. Confirming an already-confirmed operation only
// refreshes the instances, keeping the record stable.
func (op *Operation) Confirm(instances []Entity, now time.Time) {
	if len(instances) > 0 {
		op.Instances = instances
	}
	if op.Status != StatusConfirmed {
		op.Status = StatusConfirmed
		op.touch(now)
	}
}

// Reject marks the operation rejected. Rejected operations stay in the log
// until trimmed but are ignored by rendering.
func (op *Operation) Reject(now time.Time) {
	if op.Status != StatusRejected {
		op.Status = StatusRejected
		op.touch(now)
	}
}

// touch refreshes the timestamp, keeping it monotonically non-decreasing.
func (op *Operation) touch(now time.Time) {
	if ms := now.UnixMilli(); ms > op.Timestamp {
		op.Timestamp = ms
	}
}

// IsDelete reports whether the operation removes entities.
func (op *Operation) IsDelete() bool {
	return op.Type == OpDelete || op.Type == OpDeleteInstance
}

// IsUpsert reports whether the operation is a lookup-based variant.
func (op *Operation) IsUpsert() bool {
	return op.Type == OpGetOrCreate || op.Type == OpUpdateOrCreate
}

// ValidInstances returns the instances carrying the primary key field.
func (op *Operation) ValidInstances(pkField string) []Entity {
	out := make([]Entity, 0, len(op.Instances))
	for _, inst := range op.Instances {
		if _, ok := inst.PK(pkField); ok {
			out = append(out, inst)
		}
	}
	return out
}

// Lookup returns the upsert lookup criteria, or nil.
func (op *Operation) Lookup() map[string]any {
	if op.Args == nil {
		return nil
	}
	return op.Args.Lookup
}

// Defaults returns the upsert default fields, or nil.
func (op *Operation) Defaults() map[string]any {
	if op.Args == nil {
		return nil
	}
	return op.Args.Defaults
}
