package relay

import (
	"fmt"
	"strings"
)

// ResolveImage turns a tool-call image argument into raw base64 data.
// The argument may be:
//
//   - a pointer token ("image:<id>"): resolved through the store, single
//     use. An unknown or already-consumed token is a hard error, because a
//     missing image silently corrupts the search the user asked for.
//   - a data-URL ("data:image/png;base64,..."): the body after the first
//     comma is returned.
//   - raw base64: returned unchanged.
//
// An empty argument returns ("", nil): image search simply not requested.
func ResolveImage(store *PointerStore, value string) (string, error) {
	if value == "" {
		return "", nil
	}

	if id, ok := strings.CutPrefix(value, TokenPrefix); ok {
		entry, err := store.Take(id)
		if err != nil {
			return "", fmt.Errorf("no image found for pointer %q: %w", id, err)
		}
		return entry.Payload, nil
	}

	if strings.HasPrefix(value, "data:") {
		if comma := strings.IndexByte(value, ','); comma >= 0 {
			return value[comma+1:], nil
		}
		return value, nil
	}

	return value, nil
}
