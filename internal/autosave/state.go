package autosave

// Status is the save state of one editing session.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusDirty  Status = "dirty"
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
)

type Event string

const (
	EventMutate        Event = "mutate"
	EventSaveStarted   Event = "save_started"
	EventSaveSucceeded Event = "save_succeeded"
	EventSaveFailed    Event = "save_failed"
	// EventDiscarded is a timer fire that had nothing worth persisting.
	EventDiscarded Event = "discarded"
)

// Next is the transition function of the save state machine. It is total:
// events that do not apply to a state leave it unchanged.
//
// A mutation that lands while a save is in flight moves the session back to
// dirty, and the later success keeps it there so the newer edits are not
// reported as saved.
func Next(s Status, e Event) Status {
	switch e {
	case EventMutate:
		return StatusDirty
	case EventSaveStarted:
		return StatusSaving
	case EventSaveSucceeded:
		if s == StatusSaving {
			return StatusSaved
		}
		return s
	case EventSaveFailed:
		if s == StatusSaving || s == StatusDirty {
			return StatusError
		}
		return s
	case EventDiscarded:
		if s == StatusDirty {
			return StatusIdle
		}
		return s
	default:
		return s
	}
}
