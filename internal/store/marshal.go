package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/roomline/internal/ir"
)

// marshalCommand converts a command to canonical JSON TEXT for storage.
// Canonical form keeps the stored bytes identical across runs.
func marshalCommand(cmd ir.Command) (string, error) {
	data, err := ir.CanonicalValue(cmd)
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}
	return string(data), nil
}

// unmarshalCommand parses canonical JSON TEXT back into a command.
func unmarshalCommand(data string) (ir.Command, error) {
	var cmd ir.Command
	if err := json.Unmarshal([]byte(data), &cmd); err != nil {
		return ir.Command{}, fmt.Errorf("unmarshal command: %w", err)
	}
	return cmd, nil
}
