package helpers

import (
	"fmt"
	"os"
	"strings"
)

// ResolveFileRefs replaces values prefixed with "@" with the contents of
// the referenced file, so a schema can be passed as schema=@schema.json.
func ResolveFileRefs(data map[string]interface{}) (map[string]interface{}, error) {
	for key, value := range data {
		s, ok := value.(string)
		if !ok || !strings.HasPrefix(s, "@") {
			continue
		}
		contents, err := os.ReadFile(s[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read file for key %q: %w", key, err)
		}
		data[key] = string(contents)
	}
	return data, nil
}
