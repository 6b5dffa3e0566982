// Package canonicalize provides the canonical JSON encoding used for every
// hash and every on-disk artifact in the pipeline. Object keys are sorted by
// UTF-8 bytes, no insignificant whitespace is emitted, HTML escaping is
// disabled, and NaN/Infinity are rejected. No other JSON encoder may be used
// for hashing or artifact files.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Marshal returns the canonical JSON encoding of v.
//
// v is first marshaled with encoding/json so struct tags are honored, then
// decoded into generic form with json.Number preservation and re-encoded
// recursively with sorted keys. Numbers keep the shortest representation the
// standard encoder produced; no trailing zeros are introduced.
func Marshal(v any) ([]byte, error) {
	if err := rejectNonFinite(v); err != nil {
		return nil, err
	}

	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal: %w", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: intermediate decode: %w", err)
	}

	return encode(generic)
}

// MarshalString is Marshal returning a string.
func MarshalString(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Hash returns the SHA-256 hex digest of the canonical encoding of v.
// This is the artifact hash used for raw-item content hashes, event hashes,
// and incident evidence artifacts.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// rejectNonFinite walks obvious float carriers before pre-marshal so callers
// get a canonicalize error rather than a generic json one. encoding/json also
// rejects these; the explicit check keeps the contract local.
func rejectNonFinite(v any) error {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("canonicalize: non-finite number %v not representable", t)
		}
	case float32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("canonicalize: non-finite number %v not representable", f)
		}
	case map[string]any:
		for _, mv := range t {
			if err := rejectNonFinite(mv); err != nil {
				return err
			}
		}
	case []any:
		for _, sv := range t {
			if err := rejectNonFinite(sv); err != nil {
				return err
			}
		}
	}
	return nil
}

func encode(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return []byte(t.String()), nil
	case string:
		return encodeString(t)
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := encode(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := encodeString(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := encode(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("canonicalize: unexpected type %T after generic decode", v)
	}
}

// encodeString emits a JSON string without HTML escaping.
func encodeString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	// json.Encoder appends a newline.
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
