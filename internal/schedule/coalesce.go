package schedule

import (
	"sort"
	"strings"
)

type sessionKey struct {
	start  string
	end    string
	room   string
	title  string
	worker string
}

// Coalesce merges lessons that describe the same physical session taught to
// multiple groups. Records sharing (start, end, room, title, worker) become
// one record whose GroupName is the sorted, comma-joined union of the
// contributing group names. Output is ordered by start, then group.
func Coalesce(lessons []Lesson) []Lesson {
	if len(lessons) == 0 {
		return nil
	}

	merged := make(map[sessionKey]Lesson, len(lessons))
	groups := make(map[sessionKey]map[string]struct{}, len(lessons))

	for _, lesson := range lessons {
		key := sessionKey{
			start:  lesson.Start,
			end:    lesson.End,
			room:   lesson.Room,
			title:  lesson.Title,
			worker: lesson.Worker,
		}
		if _, ok := merged[key]; !ok {
			merged[key] = lesson
			groups[key] = make(map[string]struct{}, 1)
		}
		if lesson.GroupName != "" {
			groups[key][lesson.GroupName] = struct{}{}
		}
	}

	ret := make([]Lesson, 0, len(merged))
	for key, lesson := range merged {
		names := make([]string, 0, len(groups[key]))
		for name := range groups[key] {
			names = append(names, name)
		}
		sort.Strings(names)
		lesson.GroupName = strings.Join(names, ", ")
		ret = append(ret, lesson)
	}

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Start != ret[j].Start {
			return ret[i].Start < ret[j].Start
		}
		return ret[i].GroupName < ret[j].GroupName
	})
	return ret
}
