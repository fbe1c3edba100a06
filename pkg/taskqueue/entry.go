package taskqueue

import (
	"encoding/json"
	"strings"
)

// EventMessage is the only event kind treated as a task.
const EventMessage = "message"

// Entry is one line of a pending-task file.
type Entry struct {
	Seq       int64     `json:"seq"`
	Event     string    `json:"event"`
	Publisher string    `json:"publisher"`
	Target    string    `json:"target"`
	Data      EntryData `json:"data"`
}

// EntryData is the payload of a message entry.
type EntryData struct {
	Message string `json:"message"`
}

// Task is an entry that asks for an answer.
type Task struct {
	Entry
	Raw string
}

// parseLine decodes one line. ok is false for malformed lines.
func parseLine(line string) (Entry, bool) {
	var e Entry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

// IsTask reports whether e is a message with a publisher and text.
func (e Entry) IsTask() bool {
	return e.Event == EventMessage &&
		strings.TrimSpace(e.Publisher) != "" &&
		strings.TrimSpace(e.Data.Message) != ""
}

// ExtractTasks parses raw lines and returns the tasks among them along with
// the number of lines dropped as malformed or non-task.
func ExtractTasks(lines []string) ([]Task, int) {
	var tasks []Task
	dropped := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		e, ok := parseLine(line)
		if !ok || !e.IsTask() {
			dropped++
			continue
		}
		tasks = append(tasks, Task{Entry: e, Raw: line})
	}
	return tasks, dropped
}
