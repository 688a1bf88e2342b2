package runs

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// ErrRunConflict is returned by Start while another run is queued or
// running. Callers should attach to the active run instead of retrying.
var ErrRunConflict = errors.New("sync already running")

// Run is one discovery job. GroupsFound counts the distinct group names
// seen so far; it only grows for the lifetime of the run. RoomsProcessed
// counts every room whose fetch resolved, successful or not.
type Run struct {
	ID         string    `json:"id"`
	TokName    string    `json:"tok_name"`
	StartISO   string    `json:"start_iso"`
	EndISO     string    `json:"end_iso"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Status     Status    `json:"status"`

	RoomsTotal     int    `json:"rooms_total"`
	RoomsProcessed int    `json:"rooms_processed"`
	GroupsFound    int    `json:"groups_found"`
	GroupsAdded    int    `json:"groups_added"`
	Errors         int    `json:"errors"`
	LastError      string `json:"last_error,omitempty"`
}

// Store persists run state and discovery output so runs survive restarts
// and stay pollable.
type Store interface {
	LoadRuns(ctx context.Context) ([]*Run, error)
	UpsertRun(ctx context.Context, run *Run) error
	ReplaceRunGroups(ctx context.Context, runID, tokName string, groups []string) error
	// UpsertGroups records groups in the canonical per-tok set and returns
	// how many were new.
	UpsertGroups(ctx context.Context, tokName string, groups []string) (int, error)
	UpsertRooms(ctx context.Context, rooms []string) error
}
