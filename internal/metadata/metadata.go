// Package metadata implements the inline section-marker protocol used to
// tag the build log byte stream with out-of-band control data (the current
// build "section"), without opening a second channel from the build script
// to the worker.
package metadata

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Prefix marks a line in the build output as a metadata line rather than
// ordinary build content.
const Prefix = "anaconda-build-metadata:"

var prefixBytes = []byte(Prefix)

// ErrMalformed is returned by Decode when a line carries the metadata
// prefix but its payload doesn't decode to a JSON object. The log sink
// treats this non-fatally: the line is written through as ordinary content.
var ErrMalformed = errors.New("metadata: malformed metadata line")

// Map is a flat string-keyed mapping of section metadata, e.g.
// {"section": "install"}.
type Map map[string]any

// Encode renders m as a metadata line: the fixed prefix followed by a
// URL-safe base64 encoding of m's UTF-8 JSON representation. The result
// contains no '$', '\'', '^', or whitespace, so it is always safe to embed
// directly in a generated shell or batch command.
func Encode(m Map) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("metadata: encode: %w", err)
	}
	encoded := base64.URLEncoding.EncodeToString(payload)
	out := make([]byte, 0, len(prefixBytes)+len(encoded))
	out = append(out, prefixBytes...)
	out = append(out, encoded...)
	return out, nil
}

// Decode recognizes and parses a metadata line. It fails with
// ErrMalformed if the prefix is absent, the base64 payload is invalid, or
// the decoded JSON does not parse to an object.
//
// A single trailing "\n" or "\r\n" is tolerated and stripped before
// base64-decoding, since callers normally hand Decode a complete line
// including its terminator.
func Decode(line []byte) (Map, error) {
	if !bytes.HasPrefix(line, prefixBytes) {
		return nil, ErrMalformed
	}
	payload := bytes.TrimSuffix(bytes.TrimSuffix(line[len(prefixBytes):], []byte("\n")), []byte("\r"))

	raw := make([]byte, base64.URLEncoding.DecodedLen(len(payload)))
	n, err := base64.URLEncoding.Decode(raw, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var m Map
	if err := json.Unmarshal(raw[:n], &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	return m, nil
}

// IsMetadataLine reports whether line carries the metadata prefix, without
// attempting to decode it. Useful for cheap pre-filtering.
func IsMetadataLine(line []byte) bool {
	return bytes.HasPrefix(line, prefixBytes)
}
