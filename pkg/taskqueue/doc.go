// Package taskqueue consumes an agent's pending-task file.
//
// Producers append JSON lines to the pending file. A consumer drains it by
// renaming it to a processing marker "<pending>.processing.<pid>.<epochMs>",
// answers each task, appends the lines it could not answer back to the
// pending file and deletes the marker. Markers left by a dead process, or
// older than the recovery threshold, are appended back before the next
// drain, so a task is answered at least once.
package taskqueue
