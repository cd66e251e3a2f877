// Package serializer holds the value codecs a database handle can apply to
// values on their way to and from the server.
package serializer

import (
	"fmt"
	"slices"
	"strings"
)

// Codec transforms stored values. Encode runs before a value is written and
// Decode after it is read back.
type Codec interface {
	Name() string
	Encode([]byte) ([]byte, error)
	Decode([]byte) ([]byte, error)
}

var codecs = map[string]Codec{
	"base64": base64Codec{},
	"gzip":   gzipCodec{},
	"snappy": snappyCodec{},
}

// Get returns the codec registered under name, case-insensitively.
func Get(name string) (Codec, error) {
	c, ok := codecs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown serializer %q, want one of %s", name, strings.Join(Names(), ", "))
	}
	return c, nil
}

// Names lists the registered codecs in sorted order.
func Names() []string {
	names := make([]string, 0, len(codecs))
	for n := range codecs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
