package schema

import (
	"strings"

	"github.com/stoewer/go-strcase"
)

// Normalize converts a function or parameter name to lower snake_case,
// regardless of the source convention: "addNumbers", "AddNumbers" and
// "add-numbers" all become "add_numbers".
func Normalize(name string) string {
	return strcase.SnakeCase(name)
}

// Key returns the lookup key for a function name. Keys ignore case and
// word separators, so any spelling a model produces for a registered name
// resolves to the same key.
func Key(name string) string {
	return strings.ReplaceAll(Normalize(name), "_", "")
}
