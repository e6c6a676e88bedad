package entity

import (
	"fmt"
	"hash"
	"sort"
	"strconv"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"

	"github.com/syncforge/core/internal/synccore"
)

// HashSize is the fixed length of a content hash, satisfying §4.A's
// "length-stable" requirement.
const HashSize = 32

// Hash computes the deterministic content hash over the fields descriptor
// marks content-relevant. Two independent computations over identical
// content produce identical bytes; volatile fields (not listed in
// descriptor.ContentFields) never influence the result.
//
// Fails with an *synccore.InvalidEntityError if descriptor requires
// EmbeddableText and e.EmbeddableText is empty.
func Hash(e Entity, descriptor KindDescriptor) ([]byte, error) {
	if descriptor.RequiresEmbeddableText && e.EmbeddableText == "" {
		return nil, &synccore.InvalidEntityError{
			EntityID: e.EntityID,
			Reason:   "embeddable_text is required by entity kind but missing",
		}
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("init hasher: %w", err)
	}

	fields := append([]string(nil), descriptor.ContentFields...)
	sort.Strings(fields)

	writeString(h, e.Kind)
	for _, field := range fields {
		writeString(h, field)
		writeValue(h, e.Payload[field])
	}

	return h.Sum(nil), nil
}

// EqualContent reports whether a and b hash to the same content under
// descriptor, i.e. whether the destination point for b can be "kept"
// unchanged relative to a.
func EqualContent(a, b Entity, descriptor KindDescriptor) (bool, error) {
	ah, err := Hash(a, descriptor)
	if err != nil {
		return false, err
	}
	bh, err := Hash(b, descriptor)
	if err != nil {
		return false, err
	}
	return string(ah) == string(bh), nil
}

// writeValue recursively canonicalizes a JSON-like value into h: maps are
// written with keys in sorted order, sequences preserve their order,
// floats use a fixed representation, and strings are NFC-normalized before
// hashing. Without this canonicalization two equivalent-but-differently-
// ordered payloads would hash differently, breaking the "same content =>
// same hash" invariant and causing the engine to oscillate between update
// and keep.
func writeValue(h hash.Hash, v any) {
	switch val := v.(type) {
	case nil:
		h.Write([]byte{0x00})
	case string:
		h.Write([]byte{0x01})
		writeString(h, val)
	case bool:
		h.Write([]byte{0x02})
		if val {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	case float64:
		h.Write([]byte{0x03})
		writeString(h, strconv.FormatFloat(val, 'g', -1, 64))
	case int:
		h.Write([]byte{0x03})
		writeString(h, strconv.FormatFloat(float64(val), 'g', -1, 64))
	case []any:
		h.Write([]byte{0x04})
		for _, item := range val {
			writeValue(h, item)
		}
		h.Write([]byte{0xFF})
	case map[string]any:
		h.Write([]byte{0x05})
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeString(h, k)
			writeValue(h, val[k])
		}
		h.Write([]byte{0xFF})
	default:
		// Unknown scalar types (e.g. custom number types from a connector)
		// fall back to their string form; this keeps Hash total rather than
		// panicking on an unexpected payload shape.
		h.Write([]byte{0x06})
		writeString(h, fmt.Sprintf("%v", val))
	}
}

func writeString(h hash.Hash, s string) {
	normalized := norm.NFC.String(s)
	length := strconv.Itoa(len(normalized))
	h.Write([]byte(length))
	h.Write([]byte{':'})
	h.Write([]byte(normalized))
}
