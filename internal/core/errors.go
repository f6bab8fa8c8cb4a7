package core

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrAdmissionDenied   = errors.New("admission denied")

	// ErrInvalidCredentials is returned for an unknown or revoked API key and
	// for a node id and secret that do not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError reports malformed or missing input. It is always returned
// before any state is mutated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictKind identifies which precondition a conflicting request violated.
type ConflictKind string

const (
	ConflictBlockOwnerMismatch ConflictKind = "port_block_owner_mismatch"
	ConflictBlockAssigned      ConflictKind = "port_block_already_assigned"
	ConflictBlockWrongNode     ConflictKind = "port_block_wrong_node"
	ConflictBlockPortsInUse    ConflictKind = "port_block_ports_in_use"
	ConflictBlockInUse         ConflictKind = "port_block_in_use"
	ConflictPoolWrongNode      ConflictKind = "port_pool_wrong_node"
	ConflictPoolOverlap        ConflictKind = "port_pool_overlap"
	ConflictNodeHasWorkloads   ConflictKind = "node_has_workloads"
	ConflictJobTerminal        ConflictKind = "job_terminal"
)

type ConflictError struct {
	Kind       ConflictKind
	ResourceID string
	Message    string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func conflict(kind ConflictKind, resourceID, format string, args ...any) error {
	return &ConflictError{Kind: kind, ResourceID: resourceID, Message: fmt.Sprintf(format, args...)}
}

// ResourceExhaustedError means no free contiguous run of the requested size
// exists. Callers should move on to another pool rather than retry.
type ResourceExhaustedError struct {
	PoolID    string
	NodeID    string
	Requested int
}

func (e *ResourceExhaustedError) Error() string {
	if e.PoolID == "" {
		return fmt.Sprintf("no port pool on node %s has %d free contiguous ports", e.NodeID, e.Requested)
	}
	return fmt.Sprintf("port pool %s has no %d free contiguous ports", e.PoolID, e.Requested)
}

func (e *ResourceExhaustedError) Is(target error) bool {
	return target == ErrResourceExhausted
}

// AdmissionDeniedError is returned when disk protect mode blocks new
// provisioning on a node.
type AdmissionDeniedError struct {
	NodeID           string
	FreePercent      float64
	ThresholdPercent int
}

func (e *AdmissionDeniedError) Error() string {
	return fmt.Sprintf("provisioning on node %s denied: disk protect mode active (%.1f%% free, threshold %d%%)",
		e.NodeID, e.FreePercent, e.ThresholdPercent)
}

func (e *AdmissionDeniedError) Is(target error) bool {
	return target == ErrAdmissionDenied
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// lookupErr translates pgx.ErrNoRows into ErrNotFound and wraps anything else.
func lookupErr(kind, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(kind, id)
	}
	return fmt.Errorf("get %s %s: %w", kind, id, err)
}
