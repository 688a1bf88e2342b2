package student

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/planzut/plan-sync/internal/discovery"
	"github.com/planzut/plan-sync/internal/schedule"
	"github.com/planzut/plan-sync/internal/store"
	"github.com/planzut/plan-sync/pkg/log"
)

var (
	// ErrInvalidInput rejects a request before any external fetch.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownStudent means the album has not been resolved yet; the
	// caller should run Ensure first.
	ErrUnknownStudent = errors.New("student not resolved")
)

// Client is the portal surface the resolver needs.
type Client interface {
	StudentSchedule(ctx context.Context, album string, r schedule.Range) ([]schedule.Lesson, error)
	GroupSchedule(ctx context.Context, group string, r schedule.Range) ([]schedule.Lesson, error)
}

// Discoverer runs a synchronous room scan for the toks that have no known
// groups yet; satisfied by discovery.Discoverer.
type Discoverer interface {
	Discover(ctx context.Context, tokNames []string, r schedule.Range, workers int, force bool, cb discovery.Callbacks) (discovery.Result, error)
}

// Resolver owns the album → tok_names → groups workflow and the per-group
// week loads built on top of it.
type Resolver struct {
	store  *store.Store
	client Client
	disc   Discoverer

	// Concurrent Ensure calls for the same album share one resolution.
	sf singleflight.Group
}

func NewResolver(st *store.Store, client Client, disc Discoverer) *Resolver {
	return &Resolver{store: st, client: client, disc: disc}
}

type EnsureRequest struct {
	Album       string
	MajorsCount int
	WeekStart   string
	RangeStart  string
	RangeEnd    string
	Force       bool
	Workers     int
}

// DiscoveryOutcome reports whether Ensure had to scan rooms and how many
// per-room errors the scan hit.
type DiscoveryOutcome struct {
	Performed bool `json:"performed"`
	Errors    int  `json:"errors"`
}

type EnsureResponse struct {
	Album       string              `json:"album_number"`
	WeekStart   string              `json:"week_start"`
	RangeStart  string              `json:"range_start,omitempty"`
	RangeEnd    string              `json:"range_end,omitempty"`
	Start       string              `json:"start"`
	End         string              `json:"end"`
	TokNames    []string            `json:"tok_names"`
	GroupsByTok map[string][]string `json:"groups_by_tok"`
	Cached      bool                `json:"cached"`
	Discovery   DiscoveryOutcome    `json:"group_discovery"`
}

// Ensure resolves the album's tok_names and their group sets. A fully
// cached student is answered from the store; otherwise tok_names are read
// from the student's own schedule week by week, and toks with no known
// groups trigger a synchronous room scan. Concurrent calls for the same
// album are coalesced.
func (r *Resolver) Ensure(ctx context.Context, req EnsureRequest) (*EnsureResponse, error) {
	album, err := normalizeAlbum(req.Album)
	if err != nil {
		return nil, err
	}
	if req.MajorsCount < 1 {
		return nil, fmt.Errorf("%w: majors_count must be at least 1", ErrInvalidInput)
	}

	ret, err, _ := r.sf.Do(album, func() (any, error) {
		return r.ensure(ctx, album, req)
	})
	if err != nil {
		return nil, err
	}
	return ret.(*EnsureResponse), nil
}

func (r *Resolver) ensure(ctx context.Context, album string, req EnsureRequest) (*EnsureResponse, error) {
	now := time.Now()
	monday, err := schedule.MondayFor(req.WeekStart, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	rng, err := schedule.RangeBounds(req.RangeStart, req.RangeEnd, monday)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	resp := &EnsureResponse{
		Album:      album,
		WeekStart:  monday.Format("2006-01-02"),
		RangeStart: req.RangeStart,
		RangeEnd:   req.RangeEnd,
		Start:      rng.StartLocal(),
		End:        rng.EndLocal(),
	}

	if !req.Force {
		cached, ok, err := r.cachedContext(ctx, album)
		if err != nil {
			return nil, err
		}
		if ok {
			resp.TokNames = cached.tokNames
			resp.GroupsByTok = cached.groups
			resp.Cached = true
			return resp, nil
		}
	}

	tokNames, err := r.resolveTokNames(ctx, album, req.MajorsCount, monday, rng.Weeks())
	if err != nil {
		return nil, fmt.Errorf("resolve tok names for %s: %w", album, err)
	}
	if err := r.store.UpsertStudent(ctx, album, req.MajorsCount); err != nil {
		return nil, err
	}
	if err := r.store.ReplaceStudentTokNames(ctx, album, tokNames); err != nil {
		return nil, err
	}
	if err := r.store.DeleteStudentGroupsNotIn(ctx, album, tokNames); err != nil {
		return nil, err
	}

	known, err := r.store.ListStudentGroups(ctx, album)
	if err != nil {
		return nil, err
	}
	missing := make([]string, 0, len(tokNames))
	for _, tok := range tokNames {
		if req.Force || len(known[tok]) == 0 {
			missing = append(missing, tok)
		}
	}

	if len(missing) > 0 {
		result, err := r.disc.Discover(ctx, missing, rng, req.Workers, req.Force, discovery.Callbacks{})
		if err != nil {
			return nil, fmt.Errorf("discover groups for %s: %w", album, err)
		}
		resp.Discovery.Performed = true
		resp.Discovery.Errors = result.Errors
		if result.LastError != "" {
			log.Warn("Group discovery for album %s hit %d errors, last: %s", album, result.Errors, result.LastError)
		}
		for _, tok := range missing {
			groups := result.GroupsByTok[tok]
			if len(groups) == 0 {
				continue
			}
			if err := r.store.ReplaceStudentGroups(ctx, album, tok, groups); err != nil {
				return nil, err
			}
			if _, err := r.store.UpsertGroups(ctx, tok, groups); err != nil {
				return nil, err
			}
		}
		known, err = r.store.ListStudentGroups(ctx, album)
		if err != nil {
			return nil, err
		}
	}

	resp.TokNames = tokNames
	resp.GroupsByTok = known
	return resp, nil
}

type cachedStudent struct {
	tokNames []string
	groups   map[string][]string
}

// cachedContext answers Ensure from the store when the album has tok_names
// and every tok has at least one known group.
func (r *Resolver) cachedContext(ctx context.Context, album string) (cachedStudent, bool, error) {
	tokNames, err := r.store.ListStudentTokNames(ctx, album)
	if err != nil {
		return cachedStudent{}, false, err
	}
	if len(tokNames) == 0 {
		return cachedStudent{}, false, nil
	}
	groups, err := r.store.ListStudentGroups(ctx, album)
	if err != nil {
		return cachedStudent{}, false, err
	}
	for _, tok := range tokNames {
		if len(groups[tok]) == 0 {
			return cachedStudent{}, false, nil
		}
	}
	return cachedStudent{tokNames: tokNames, groups: groups}, true, nil
}

// resolveTokNames reads the student's own schedule in 7-day windows from
// monday forward, collecting distinct tok_names in encounter order, until
// majorsCount are found or weeksLimit windows have been read.
func (r *Resolver) resolveTokNames(ctx context.Context, album string, majorsCount int, monday time.Time, weeksLimit int) ([]string, error) {
	if weeksLimit < 1 {
		weeksLimit = 1
	}

	seen := make(map[string]struct{})
	tokNames := make([]string, 0, majorsCount)
	for i := 0; i < weeksLimit; i++ {
		window := schedule.WeekWindow(monday.AddDate(0, 0, 7*i))
		lessons, err := r.client.StudentSchedule(ctx, album, window)
		if err != nil {
			return nil, err
		}
		for _, lesson := range lessons {
			tok := strings.TrimSpace(lesson.TokName)
			if tok == "" {
				continue
			}
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			tokNames = append(tokNames, tok)
			if len(tokNames) >= majorsCount {
				return tokNames, nil
			}
		}
	}
	return tokNames, nil
}

func normalizeAlbum(album string) (string, error) {
	album = strings.TrimSpace(album)
	if album == "" {
		return "", fmt.Errorf("%w: album number is required", ErrInvalidInput)
	}
	for _, c := range album {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("%w: album number must be digits", ErrInvalidInput)
		}
	}
	return album, nil
}
