package billing

// DueState is the lateness of a due date relative to a reference date.
type DueState string

const (
	DueStateOnTime   DueState = "on_time"
	DueStateDueToday DueState = "due_today"
	DueStateOverdue  DueState = "overdue"
)

// Classify compares a due date with a reference date.
// There is no "due soon" band here; callers layer that on top.
func Classify(due, ref Date) DueState {
	diff := DaysBetween(due, ref)
	switch {
	case diff == 0:
		return DueStateDueToday
	case diff > 0:
		return DueStateOnTime
	default:
		return DueStateOverdue
	}
}
