// Package codec encodes checkpoint documents and checkpoint pointers.
//
// A checkpoint header records the name of the codec that wrote it and
// decoding looks the codec up with ByName, so switching Default never breaks
// reading older checkpoints.
package codec

import (
	"slices"
	"strings"

	"github.com/hupe1980/localagg/lagerr"
)

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Default is the codec used for newly written checkpoints.
var Default Codec = GoJSON{}

var registry = map[string]Codec{
	JSON{}.Name():   JSON{},
	GoJSON{}.Name(): GoJSON{},
}

// ByName returns the codec registered under the exact name stored in a
// checkpoint header.
func ByName(name string) (Codec, bool) {
	c, ok := registry[name]
	return c, ok
}

// Parse resolves a user-supplied codec name. The empty string selects Default.
func Parse(name string) (Codec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Default, nil
	}
	if c, ok := registry[name]; ok {
		return c, nil
	}
	return nil, lagerr.Configf("unknown codec %q, want one of %v", name, Names())
}

// Names returns the registered codec names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
