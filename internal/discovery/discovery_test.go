package discovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planzut/plan-sync/internal/schedule"
)

type fakeRoomClient struct {
	mu       sync.Mutex
	rooms    []string
	roomsErr error
	lessons  map[string][]schedule.Lesson
	fails    map[string]error
	calls    map[string]int
}

func (f *fakeRoomClient) Rooms(_ context.Context) ([]string, error) {
	if f.roomsErr != nil {
		return nil, f.roomsErr
	}
	return f.rooms, nil
}

func (f *fakeRoomClient) RoomSchedule(_ context.Context, room string, _ schedule.Range) ([]schedule.Lesson, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[room]++
	if err, ok := f.fails[room]; ok {
		return nil, err
	}
	return f.lessons[room], nil
}

func roomLesson(tok, group string) schedule.Lesson {
	return schedule.Lesson{
		TokName:   tok,
		GroupName: group,
		Start:     "2026-03-16T08:15:00",
		End:       "2026-03-16T10:00:00",
	}
}

func testWindow(t *testing.T) schedule.Range {
	t.Helper()
	monday, err := schedule.MondayFor("2026-03-16", time.Now())
	require.NoError(t, err)
	return schedule.WeekWindow(monday)
}

func TestDiscover_UnionsGroupsAcrossRooms(t *testing.T) {
	client := &fakeRoomClient{
		rooms: []string{"A", "B", "C"},
		lessons: map[string][]schedule.Lesson{
			"A": {roomLesson("INF", "31"), roomLesson("INF", "12")},
			"B": {roomLesson("INF", "31"), roomLesson("OTHER", "99")},
			"C": {roomLesson("INF", "22")},
		},
	}

	result, err := New(client, nil).Discover(context.Background(), []string{"INF"}, testWindow(t), 2, false, Callbacks{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.RoomsTotal)
	assert.Equal(t, 3, result.RoomsProcessed)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, []string{"12", "22", "31"}, result.GroupsByTok["INF"])
	assert.NotContains(t, result.GroupsByTok, "OTHER", "only requested toks are collected")
}

func TestDiscover_FailedRoomContributesNothing(t *testing.T) {
	client := &fakeRoomClient{
		rooms: []string{"A", "B", "C"},
		lessons: map[string][]schedule.Lesson{
			"A": {roomLesson("INF", "11")},
			"C": {roomLesson("INF", "12")},
		},
		fails: map[string]error{"B": fmt.Errorf("timeout")},
	}

	var mu sync.Mutex
	processed := 0
	result, err := New(client, nil).Discover(context.Background(), []string{"INF"}, testWindow(t), 2, false,
		Callbacks{OnRoom: func(room string, _ map[string][]string, _ error) {
			mu.Lock()
			processed++
			mu.Unlock()
		}})
	require.NoError(t, err)

	assert.Equal(t, 3, processed, "progress fires for failed rooms too")
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, "B: timeout", result.LastError)
	assert.Equal(t, []string{"11", "12"}, result.GroupsByTok["INF"])
}

func TestDiscover_RoomListFailureIsFatal(t *testing.T) {
	client := &fakeRoomClient{roomsErr: fmt.Errorf("portal down")}

	_, err := New(client, nil).Discover(context.Background(), []string{"INF"}, testWindow(t), 2, false, Callbacks{})
	require.Error(t, err)
}

func TestDiscover_NoToksShortCircuits(t *testing.T) {
	client := &fakeRoomClient{rooms: []string{"A"}}

	result, err := New(client, nil).Discover(context.Background(), nil, testWindow(t), 2, false, Callbacks{})
	require.NoError(t, err)
	assert.Empty(t, result.GroupsByTok)
	assert.Zero(t, result.RoomsTotal)
	assert.Empty(t, client.calls)
}

func TestDiscover_MultipleToksSplitCorrectly(t *testing.T) {
	client := &fakeRoomClient{
		rooms: []string{"A"},
		lessons: map[string][]schedule.Lesson{
			"A": {roomLesson("INF", "31"), roomLesson("AUT", "7"), roomLesson("INF", "32")},
		},
	}

	result, err := New(client, nil).Discover(context.Background(), []string{"INF", "AUT"}, testWindow(t), 1, false, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, []string{"31", "32"}, result.GroupsByTok["INF"])
	assert.Equal(t, []string{"7"}, result.GroupsByTok["AUT"])
}
