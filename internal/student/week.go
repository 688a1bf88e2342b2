package student

import (
	"context"
	"fmt"
	"time"

	"github.com/planzut/plan-sync/internal/fetchpool"
	"github.com/planzut/plan-sync/internal/schedule"
)

type WeekRequest struct {
	Album      string
	WeekStart  string
	RangeStart string
	RangeEnd   string
	Force      bool
	Workers    int
}

type WeekResponse struct {
	Lessons    []schedule.Lesson `json:"lessons"`
	WeekStart  string            `json:"week_start"`
	RangeStart string            `json:"range_start,omitempty"`
	RangeEnd   string            `json:"range_end,omitempty"`
	Start      string            `json:"start"`
	End        string            `json:"end"`

	GroupsTotal   int    `json:"groups_total"`
	GroupsFetched int    `json:"groups_fetched"`
	GroupsSkipped int    `json:"groups_skipped"`
	Errors        int    `json:"errors"`
	LastError     string `json:"last_error,omitempty"`
}

// Week loads the album's lessons for the requested window by fetching every
// group the student belongs to and coalescing sessions shared between
// groups. Failed groups only count; lessons from the rest are still
// returned. A repeat call with the same window is answered from the cache.
func (r *Resolver) Week(ctx context.Context, req WeekRequest) (*WeekResponse, error) {
	album, err := normalizeAlbum(req.Album)
	if err != nil {
		return nil, err
	}
	monday, err := schedule.MondayFor(req.WeekStart, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	rng, err := schedule.RangeBounds(req.RangeStart, req.RangeEnd, monday)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	groups, err := r.store.ListStudentGroupsFlat(ctx, album)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: album %s", ErrUnknownStudent, album)
	}

	keys := make([]fetchpool.Key, 0, len(groups))
	for _, group := range groups {
		keys = append(keys, fetchpool.Key{Kind: fetchpool.KindGroup, Name: group, Range: rng})
	}
	result := fetchpool.FetchAll(ctx, keys, func(ctx context.Context, key fetchpool.Key) ([]schedule.Lesson, error) {
		return r.client.GroupSchedule(ctx, key.Name, key.Range)
	}, fetchpool.Options{
		Cache:   r.store.Cache(),
		Workers: req.Workers,
		Force:   req.Force,
	})

	all := make([]schedule.Lesson, 0)
	for _, records := range result.Records {
		all = append(all, records...)
	}

	return &WeekResponse{
		Lessons:       schedule.Coalesce(all),
		WeekStart:     monday.Format("2006-01-02"),
		RangeStart:    req.RangeStart,
		RangeEnd:      req.RangeEnd,
		Start:         rng.StartLocal(),
		End:           rng.EndLocal(),
		GroupsTotal:   len(groups),
		GroupsFetched: result.Fetched,
		GroupsSkipped: result.Skipped,
		Errors:        result.Failed,
		LastError:     result.LastError,
	}, nil
}
