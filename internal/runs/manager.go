package runs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planzut/plan-sync/internal/discovery"
	"github.com/planzut/plan-sync/internal/schedule"
	"github.com/planzut/plan-sync/pkg/log"
)

// progressFlushEvery controls how often progress is written to the store
// while a run is in flight; the final state is always persisted.
const progressFlushEvery = 25

// Discoverer drives one room scan; satisfied by discovery.Discoverer.
type Discoverer interface {
	Discover(ctx context.Context, tokNames []string, r schedule.Range, workers int, force bool, cb discovery.Callbacks) (discovery.Result, error)
}

// Manager owns the lifecycle of discovery runs. At most one run is queued
// or running at a time; terminal runs stay pollable until the process
// forgets them.
type Manager struct {
	store Store
	disc  Discoverer

	mu       sync.Mutex
	runs     map[string]*Run
	sets     map[string]map[string]struct{}
	activeID string
	wg       sync.WaitGroup
}

func NewManager(store Store, disc Discoverer) *Manager {
	m := &Manager{
		store: store,
		disc:  disc,
		runs:  make(map[string]*Run),
		sets:  make(map[string]map[string]struct{}),
	}
	m.hydrateFromStore(context.Background())
	return m
}

// Start creates a new run and begins driving it in the background. It
// fails with ErrRunConflict while another run is queued or running.
func (m *Manager) Start(tokName string, r schedule.Range, workers int) (*Run, error) {
	now := time.Now()

	m.mu.Lock()
	if active := m.activeLocked(); active != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (run %s)", ErrRunConflict, active.ID)
	}

	run := &Run{
		ID:        uuid.NewString(),
		TokName:   tokName,
		StartISO:  r.StartLocal(),
		EndISO:    r.EndLocal(),
		CreatedAt: now,
		Status:    StatusQueued,
	}
	m.runs[run.ID] = run
	m.sets[run.ID] = make(map[string]struct{})
	m.activeID = run.ID
	snapshot := cloneRun(run)
	m.mu.Unlock()

	m.persist(snapshot)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(context.Background(), run.ID, tokName, r, workers)
	}()
	return snapshot, nil
}

// Get returns a snapshot of the run's current counters.
func (m *Manager) Get(id string) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, false
	}
	return cloneRun(run), true
}

// Active returns the id of the in-flight run, if any.
func (m *Manager) Active() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active := m.activeLocked(); active != nil {
		return active.ID, true
	}
	return "", false
}

// LiveGroups returns the run's current group set, sorted. It only knows
// runs executed by this process; for older runs the caller should read the
// persisted run groups instead.
func (m *Manager) LiveGroups(id string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[id]
	if !ok {
		return nil, false
	}
	ret := make([]string, 0, len(set))
	for group := range set {
		ret = append(ret, group)
	}
	sort.Strings(ret)
	return ret, true
}

// Wait blocks until any in-flight run completes. Used on shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) activeLocked() *Run {
	if m.activeID == "" {
		return nil
	}
	run, ok := m.runs[m.activeID]
	if !ok || (run.Status != StatusQueued && run.Status != StatusRunning) {
		return nil
	}
	return run
}

func (m *Manager) run(ctx context.Context, id, tokName string, r schedule.Range, workers int) {
	m.mu.Lock()
	run := m.runs[id]
	run.Status = StatusRunning
	run.StartedAt = time.Now()
	snapshot := cloneRun(run)
	m.mu.Unlock()
	m.persist(snapshot)

	result, err := m.disc.Discover(ctx, []string{tokName}, r, workers, false, discovery.Callbacks{
		OnRooms: func(rooms []string) {
			if err := m.store.UpsertRooms(ctx, rooms); err != nil {
				log.Error("Failed to persist room list: %v", err)
			}
			m.mu.Lock()
			run.RoomsTotal = len(rooms)
			snapshot := cloneRun(run)
			m.mu.Unlock()
			m.persist(snapshot)
		},
		OnRoom: func(room string, groupsByTok map[string][]string, roomErr error) {
			m.onRoomDone(ctx, id, tokName, room, groupsByTok[tokName], roomErr)
		},
	})

	m.mu.Lock()
	run.FinishedAt = time.Now()
	if err != nil {
		// Could not even enumerate the rooms; the run as a whole failed.
		run.Status = StatusFailed
		run.Errors++
		run.LastError = err.Error()
	} else {
		run.Status = StatusSuccess
		run.RoomsTotal = result.RoomsTotal
		run.RoomsProcessed = result.RoomsProcessed
	}
	snapshot = cloneRun(run)
	groups := m.groupsLocked(id)
	m.mu.Unlock()

	m.persist(snapshot)
	m.persistGroups(ctx, id, tokName, groups)
	log.Info("Run %s finished: status=%s rooms=%d/%d groups=%d errors=%d",
		id, snapshot.Status, snapshot.RoomsProcessed, snapshot.RoomsTotal, snapshot.GroupsFound, snapshot.Errors)
}

// onRoomDone applies one room's outcome to the run. RoomsProcessed grows by
// one per resolved room and the group set only ever gains members, so
// pollers observe monotone progress.
func (m *Manager) onRoomDone(ctx context.Context, id, tokName, room string, groups []string, roomErr error) {
	m.mu.Lock()
	run := m.runs[id]
	set := m.sets[id]

	run.RoomsProcessed++
	if roomErr != nil {
		run.Errors++
		run.LastError = fmt.Sprintf("%s: %v", room, roomErr)
	}
	for _, group := range groups {
		if _, ok := set[group]; !ok {
			set[group] = struct{}{}
			run.GroupsFound++
		}
	}

	flush := run.RoomsProcessed%progressFlushEvery == 0 ||
		(run.RoomsTotal > 0 && run.RoomsProcessed == run.RoomsTotal)
	var snapshot *Run
	var groupSnapshot []string
	if flush {
		snapshot = cloneRun(run)
		groupSnapshot = m.groupsLocked(id)
	}
	m.mu.Unlock()

	if flush {
		m.persist(snapshot)
		m.persistGroups(ctx, id, tokName, groupSnapshot)
	}
}

func (m *Manager) groupsLocked(id string) []string {
	set := m.sets[id]
	ret := make([]string, 0, len(set))
	for group := range set {
		ret = append(ret, group)
	}
	sort.Strings(ret)
	return ret
}

func (m *Manager) persist(run *Run) {
	if m.store == nil || run == nil {
		return
	}
	if err := m.store.UpsertRun(context.Background(), run); err != nil {
		log.Error("Failed to persist run %s: %v", run.ID, err)
	}
}

func (m *Manager) persistGroups(ctx context.Context, id, tokName string, groups []string) {
	if m.store == nil || len(groups) == 0 {
		return
	}
	if err := m.store.ReplaceRunGroups(ctx, id, tokName, groups); err != nil {
		log.Error("Failed to persist groups for run %s: %v", id, err)
	}
	added, err := m.store.UpsertGroups(ctx, tokName, groups)
	if err != nil {
		log.Error("Failed to update canonical groups for %s: %v", tokName, err)
		return
	}
	if added > 0 {
		m.mu.Lock()
		if run, ok := m.runs[id]; ok {
			run.GroupsAdded += added
		}
		m.mu.Unlock()
	}
}

// hydrateFromStore reloads persisted runs so terminal runs stay pollable
// after a restart. A run that was in flight when the process died cannot be
// resumed; it is marked failed.
func (m *Manager) hydrateFromStore(ctx context.Context) {
	if m.store == nil {
		return
	}
	loaded, err := m.store.LoadRuns(ctx)
	if err != nil {
		log.Error("Failed to load runs from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*Run, 0)
	m.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		run := cloneRun(raw)
		if run.Status == StatusQueued || run.Status == StatusRunning {
			run.Status = StatusFailed
			run.LastError = "interrupted by restart"
			run.FinishedAt = now
			toPersist = append(toPersist, cloneRun(run))
		}
		m.runs[run.ID] = run
	}
	m.mu.Unlock()

	for _, run := range toPersist {
		m.persist(run)
	}
}

func cloneRun(run *Run) *Run {
	if run == nil {
		return nil
	}
	tmp := *run
	return &tmp
}
