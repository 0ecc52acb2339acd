package downloader

// EventType distinguishes observer events
type EventType string

const (
	EventTaskProgress EventType = "task_progress"
	EventTaskDone     EventType = "task_done"
	EventOverall      EventType = "overall"
)

// TaskProgress describes the progress of one task.
type TaskProgress struct {
	TaskID     string  `json:"taskId"`
	MessageID  int     `json:"messageId"`
	FileName   string  `json:"fileName"`
	Downloaded int64   `json:"downloaded"`
	Total      int64   `json:"total"`
	Delta      int64   `json:"delta"`
	Speed      float64 `json:"speed"` // bytes/sec since task start
	Status     Status  `json:"status"`
	Retry      int     `json:"retry"`
	Error      string  `json:"error,omitempty"`
}

// Stats is the overall state of the manager.
type Stats struct {
	Total           int     `json:"total"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	Cancelled       int     `json:"cancelled"`
	AlreadyExists   int     `json:"alreadyExists"`
	ActiveDownloads int     `json:"activeDownloads"`
	QueueLength     int     `json:"queueLength"`
	Bytes           int64   `json:"bytes"`
	Speed           float64 `json:"speed"` // bytes/sec since Start
}

// Event is delivered to observers.
type Event struct {
	Type  EventType
	Task  *TaskProgress
	Stats *Stats
}

// Observer receives manager events. It is called synchronously from
// worker goroutines and must not block.
type Observer func(Event)
