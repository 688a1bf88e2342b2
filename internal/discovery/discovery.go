package discovery

import (
	"context"
	"sort"

	"github.com/planzut/plan-sync/internal/fetchpool"
	"github.com/planzut/plan-sync/internal/schedule"
)

// RoomClient is the slice of the portal client discovery needs.
type RoomClient interface {
	Rooms(ctx context.Context) ([]string, error)
	RoomSchedule(ctx context.Context, room string, r schedule.Range) ([]schedule.Lesson, error)
}

// Progress fires after each room's fetch resolves. groupsByTok holds the
// group names seen in that room for the requested tok names (empty on a
// failed room). Calls are serialized by the fetch pool.
type Progress func(room string, groupsByTok map[string][]string, err error)

// Callbacks lets callers observe a scan as it happens. OnRooms fires once
// after the room list is known, before any fetch; OnRoom fires per room.
type Callbacks struct {
	OnRooms func(rooms []string)
	OnRoom  Progress
}

// Result is the outcome of scanning all rooms for a range.
type Result struct {
	Rooms          []string
	GroupsByTok    map[string][]string
	RoomsTotal     int
	RoomsProcessed int
	Errors         int
	LastError      string
}

type Discoverer struct {
	client RoomClient
	cache  fetchpool.Cache
}

func New(client RoomClient, cache fetchpool.Cache) *Discoverer {
	return &Discoverer{client: client, cache: cache}
}

// Discover scans every room's timetable over the range and collects the
// distinct group names per tok. Room lessons are cached unfiltered, so a
// later discovery for a different tok over the same range reuses them.
// Per-room failures are counted, never fatal; only an inability to list the
// rooms at all returns an error.
func (d *Discoverer) Discover(ctx context.Context, tokNames []string, r schedule.Range, workers int, force bool, cb Callbacks) (Result, error) {
	toks := make([]string, 0, len(tokNames))
	for _, tok := range tokNames {
		if tok != "" {
			toks = append(toks, tok)
		}
	}
	if len(toks) == 0 {
		return Result{GroupsByTok: map[string][]string{}}, nil
	}

	rooms, err := d.client.Rooms(ctx)
	if err != nil {
		return Result{}, err
	}
	if cb.OnRooms != nil {
		cb.OnRooms(rooms)
	}

	keys := make([]fetchpool.Key, 0, len(rooms))
	for _, room := range rooms {
		keys = append(keys, fetchpool.Key{Kind: fetchpool.KindRoom, Name: room, Range: r})
	}

	res := fetchpool.FetchAll(ctx, keys, func(ctx context.Context, key fetchpool.Key) ([]schedule.Lesson, error) {
		return d.client.RoomSchedule(ctx, key.Name, key.Range)
	}, fetchpool.Options{
		Cache:   d.cache,
		Workers: workers,
		Force:   force,
		OnDone: func(key fetchpool.Key, records []schedule.Lesson, err error) {
			if cb.OnRoom == nil {
				return
			}
			cb.OnRoom(key.Name, groupsByTok(records, toks), err)
		},
	})

	merged := make(map[string]map[string]struct{}, len(toks))
	for _, records := range res.Records {
		for tok, groups := range groupsByTok(records, toks) {
			if merged[tok] == nil {
				merged[tok] = make(map[string]struct{})
			}
			for _, group := range groups {
				merged[tok][group] = struct{}{}
			}
		}
	}

	ret := Result{
		Rooms:          rooms,
		GroupsByTok:    make(map[string][]string, len(merged)),
		RoomsTotal:     len(rooms),
		RoomsProcessed: len(rooms),
		Errors:         res.Failed,
		LastError:      res.LastError,
	}
	for tok, set := range merged {
		groups := make([]string, 0, len(set))
		for group := range set {
			groups = append(groups, group)
		}
		sort.Strings(groups)
		ret.GroupsByTok[tok] = groups
	}
	return ret, nil
}

// groupsByTok extracts the distinct group names per requested tok from one
// room's lessons.
func groupsByTok(records []schedule.Lesson, toks []string) map[string][]string {
	wanted := make(map[string]struct{}, len(toks))
	for _, tok := range toks {
		wanted[tok] = struct{}{}
	}

	seen := make(map[string]map[string]struct{})
	for _, lesson := range records {
		if lesson.TokName == "" || lesson.GroupName == "" {
			continue
		}
		if _, ok := wanted[lesson.TokName]; !ok {
			continue
		}
		if seen[lesson.TokName] == nil {
			seen[lesson.TokName] = make(map[string]struct{})
		}
		seen[lesson.TokName][lesson.GroupName] = struct{}{}
	}

	ret := make(map[string][]string, len(seen))
	for tok, set := range seen {
		groups := make([]string, 0, len(set))
		for group := range set {
			groups = append(groups, group)
		}
		sort.Strings(groups)
		ret[tok] = groups
	}
	return ret
}
