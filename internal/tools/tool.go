// Package tools defines the capability interface exposed to the host's LLM
// loop and the tools this subsystem contributes: the Pi delegate and the
// approval gate wrapped around anything dangerous.
package tools

import "context"

// Tool is a callable capability. Name, description, and input schema are
// surfaced to the model; Execute runs the call and returns text for the
// transcript.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, input map[string]any) (string, error)
}

// StringField extracts an optional string argument.
func StringField(input map[string]any, key string) (string, bool) {
	val, ok := input[key]
	if !ok {
		return "", false
	}
	s, ok := val.(string)
	return s, ok
}
