// Package bus holds the event-bus collaborators used by the runtime: a
// synchronous shell executor and reply senders.
package bus
