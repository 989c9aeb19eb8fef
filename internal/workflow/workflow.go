// Package workflow defines the interface to the external BPM engine and the
// shared types crossing it. The concrete REST client lives in
// internal/adapter/camunda.
package workflow

import "context"

// Engine is the set of BPM operations the instance resolvers require.
type Engine interface {
	// StartProcess begins a process keyed by the entity id as business key.
	StartProcess(ctx context.Context, key, businessKey string, instructions []StartInstruction, variables Variables) error

	// ListTasks returns the open tasks of the process instance with the
	// given business key, in engine order.
	ListTasks(ctx context.Context, businessKey string) ([]Task, error)

	// FindInstance looks up a process instance by business key.
	// Returns nil when no instance matches.
	FindInstance(ctx context.Context, businessKey string) (*ProcessInstance, error)

	// DeleteInstance cancels a process instance. Idempotent on already
	// deleted instances.
	DeleteInstance(ctx context.Context, instanceID string) error

	// CompleteTask marks a task done, passing the given variables.
	CompleteTask(ctx context.Context, taskID string, variables Variables) error
}

// Task is one open user task of a process instance.
type Task struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	TaskDefinitionKey string `json:"taskDefinitionKey"`
	Assignee          string `json:"assignee"`
	Created           string `json:"created"`

	// Links carry engine-internal transport references and are stripped
	// before tasks leave the bridge.
	Links []Link `json:"links,omitempty"`
}

// WithoutLinks returns a copy of the task with transport links removed.
func (t Task) WithoutLinks() Task {
	t.Links = nil
	return t
}

// Link is an engine transport reference attached to a task.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// ProcessInstance identifies a running process.
type ProcessInstance struct {
	ID          string `json:"id"`
	BusinessKey string `json:"businessKey"`
}

// StartInstruction directs where a restarted process begins.
type StartInstruction struct {
	Type       string `json:"type"`
	ActivityID string `json:"activityId,omitempty"`
}

// StartAfterActivity builds the instruction used by restart.
func StartAfterActivity(activityID string) StartInstruction {
	return StartInstruction{Type: "startAfterActivity", ActivityID: activityID}
}

// Variable is one engine process variable.
type Variable struct {
	Value any `json:"value"`
}

// Variables maps variable names to values in engine wire shape.
type Variables map[string]Variable

// FromState marshals state-field values into engine variables. Only string,
// number and null values are forwarded; any other type is dropped silently.
func FromState(state map[string]any) Variables {
	vars := Variables{}
	for k, v := range state {
		if marshalable(v) {
			vars[k] = Variable{Value: v}
		}
	}
	return vars
}

func marshalable(v any) bool {
	switch v.(type) {
	case nil, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}
