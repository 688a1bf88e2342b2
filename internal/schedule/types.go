package schedule

// Lesson is one timetable entry as returned by the portal's
// schedule_student.php endpoint. Start and End are local ISO timestamps
// without offset (e.g. 2026-03-16T08:15:00), the format the portal uses.
type Lesson struct {
	GroupName         string `json:"group_name"`
	Start             string `json:"start"`
	End               string `json:"end"`
	Title             string `json:"title,omitempty"`
	Description       string `json:"description,omitempty"`
	WorkerTitle       string `json:"worker_title,omitempty"`
	Worker            string `json:"worker,omitempty"`
	WorkerCover       string `json:"worker_cover,omitempty"`
	LessonForm        string `json:"lesson_form,omitempty"`
	LessonFormShort   string `json:"lesson_form_short,omitempty"`
	TokName           string `json:"tok_name,omitempty"`
	Room              string `json:"room,omitempty"`
	LessonStatus      string `json:"lesson_status,omitempty"`
	LessonStatusShort string `json:"lesson_status_short,omitempty"`
	StatusItem        string `json:"status_item,omitempty"`
	Subject           string `json:"subject,omitempty"`
	Hours             string `json:"hours,omitempty"`
	Color             string `json:"color,omitempty"`
	BorderColor       string `json:"borderColor,omitempty"`
}
