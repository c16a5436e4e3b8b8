package mcp

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/i2y/marengo/schema"
)

// toolParameters converts a tool's input schema into explicit parameters.
// Property order follows the schema document.
func toolParameters(inputSchema any) ([]schema.Parameter, error) {
	if inputSchema == nil {
		return nil, nil
	}
	raw, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, fmt.Errorf("encoding input schema: %w", err)
	}
	return schema.FromJSONSchema(raw)
}
