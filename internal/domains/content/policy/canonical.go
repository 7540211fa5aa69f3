package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"provenance/go-backend/internal/crypto/typedhash"
	"provenance/go-backend/pkg/models"
)

var (
	ErrNotObject         = errors.New("value must be a JSON object")
	ErrMalformedEnvelope = errors.New("malformed metadata envelope")
)

// CanonicalData serializes envelope data exactly as the attestation
// signature covers it: fields in declaration order, no insignificant
// whitespace, no HTML escaping and no trailing newline. Free-form objects
// keep their key order. The output matches JSON.stringify of the same
// object, which is what other implementations sign.
func CanonicalData(data models.EnvelopeData) ([]byte, error) {
	normalized, err := NormalizeData(data)
	if err != nil {
		return nil, err
	}
	return marshalCompat(normalized)
}

// AttestationMessage is keccak256 of the canonical data bytes.
func AttestationMessage(data models.EnvelopeData) (common.Hash, error) {
	canonical, err := CanonicalData(data)
	if err != nil {
		return common.Hash{}, err
	}
	return typedhash.Keccak256(canonical), nil
}

// NormalizeData returns a copy of data with access and manifest rewritten in
// canonical form and a nil content list replaced by an empty one.
func NormalizeData(data models.EnvelopeData) (models.EnvelopeData, error) {
	access, err := NormalizeObject(data.Access)
	if err != nil {
		return models.EnvelopeData{}, fmt.Errorf("access: %w", err)
	}
	manifest, err := NormalizeObject(data.Manifest)
	if err != nil {
		return models.EnvelopeData{}, fmt.Errorf("manifest: %w", err)
	}
	out := data
	out.Access = access
	out.Manifest = manifest
	if out.Content == nil {
		out.Content = []models.ContentEntry{}
	} else {
		out.Content = slices.Clone(out.Content)
	}
	return out, nil
}

// NormalizeObject re-emits a JSON object in canonical form. Empty input
// becomes {}.
func NormalizeObject(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	value, err := parseOrdered(trimmed)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeValue(&buf, value); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}

// EncodeEnvelope renders a signed envelope for storage. The data member is
// written in canonical form so a verifier re-serializing it gets the same
// bytes back.
func EncodeEnvelope(env models.MetadataEnvelope) ([]byte, error) {
	data, err := CanonicalData(env.Data)
	if err != nil {
		return nil, err
	}
	sig, err := marshalCompat(env.Signature)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + len(sig) + 24)
	buf.WriteString(`{"data":`)
	buf.Write(data)
	buf.WriteString(`,"signature":`)
	buf.Write(sig)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodeEnvelope parses a stored envelope. The data member is kept twice:
// typed, for reading the binding and content list, and as received, for
// checking the signed message. Members the typed form drops or fills in
// would otherwise change the hash.
func DecodeEnvelope(raw []byte) (models.MetadataEnvelope, error) {
	var wire struct {
		Data      json.RawMessage          `json:"data"`
		Signature models.EnvelopeSignature `json:"signature"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return models.MetadataEnvelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	data := bytes.TrimSpace(wire.Data)
	if len(data) == 0 || data[0] != '{' {
		return models.MetadataEnvelope{}, fmt.Errorf("%w: data: %w", ErrMalformedEnvelope, ErrNotObject)
	}
	signed, err := NormalizeObject(data)
	if err != nil {
		return models.MetadataEnvelope{}, fmt.Errorf("%w: data: %v", ErrMalformedEnvelope, err)
	}
	env := models.MetadataEnvelope{Signature: wire.Signature, SignedData: signed}
	if err := json.Unmarshal(data, &env.Data); err != nil {
		return models.MetadataEnvelope{}, fmt.Errorf("%w: data: %v", ErrMalformedEnvelope, err)
	}
	return env, nil
}

// SignedMessage is the attestation message of env as a verifier must
// recompute it: keccak256 of the received data member when there is one,
// otherwise of the canonical form of the typed data.
func SignedMessage(env models.MetadataEnvelope) (common.Hash, error) {
	if len(env.SignedData) > 0 {
		return typedhash.Keccak256(env.SignedData), nil
	}
	return AttestationMessage(env.Data)
}

// ParseHash accepts a 0x-prefixed 32-byte hex string.
func ParseHash(raw string) (common.Hash, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 66 || !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return common.Hash{}, fmt.Errorf("invalid hash %q", raw)
	}
	for _, c := range raw[2:] {
		if !isHexDigit(c) {
			return common.Hash{}, fmt.Errorf("invalid hash %q", raw)
		}
	}
	return common.HexToHash(raw), nil
}

func isHexDigit(c rune) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func marshalCompat(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// unescapeLineSeparators turns \u2028 and \u2029 escapes produced by
// encoding/json back into raw characters. Escaped backslashes are skipped so
// literal text is left alone.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if b[i+1] == 'u' && i+6 <= len(b) {
			switch string(b[i+2 : i+6]) {
			case "2028":
				out = utf8.AppendRune(out, '\u2028')
				i += 5
				continue
			case "2029":
				out = utf8.AppendRune(out, '\u2029')
				i += 5
				continue
			}
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

type orderedObject struct {
	keys   []string
	values map[string]any
}

func parseOrdered(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	value, err := parseValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return value, nil
}

func parseValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := &orderedObject{values: make(map[string]any)}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected object key %v", keyTok)
			}
			value, err := parseValue(dec)
			if err != nil {
				return nil, err
			}
			if _, seen := obj.values[key]; !seen {
				obj.keys = append(obj.keys, key)
			}
			obj.values[key] = value
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := make([]any, 0)
		for dec.More() {
			value, err := parseValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, value)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %v", delim)
	}
}

func writeValue(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case string:
		encoded, err := marshalCompat(v)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case json.Number:
		buf.WriteString(formatNumber(v))
	case []any:
		buf.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *orderedObject:
		buf.WriteByte('{')
		for i, key := range enumerationOrder(v.keys) {
			if i > 0 {
				buf.WriteByte(',')
			}
			encoded, err := marshalCompat(key)
			if err != nil {
				return err
			}
			buf.Write(encoded)
			buf.WriteByte(':')
			if err := writeValue(buf, v.values[key]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported JSON value %T", value)
	}
	return nil
}

// enumerationOrder puts array-index keys first in ascending numeric order and
// keeps every other key in insertion order.
func enumerationOrder(keys []string) []string {
	var indexes []string
	var rest []string
	for _, key := range keys {
		if _, ok := arrayIndex(key); ok {
			indexes = append(indexes, key)
		} else {
			rest = append(rest, key)
		}
	}
	if len(indexes) == 0 {
		return keys
	}
	slices.SortFunc(indexes, func(a, b string) int {
		ia, _ := arrayIndex(a)
		ib, _ := arrayIndex(b)
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		default:
			return 0
		}
	})
	return append(indexes, rest...)
}

func arrayIndex(key string) (uint32, bool) {
	if key == "" || len(key) > 10 || (len(key) > 1 && key[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil || n == math.MaxUint32 {
		return 0, false
	}
	return uint32(n), true
}

// formatNumber renders a JSON number the way a double-precision JSON
// serializer does: shortest round-trip digits, exponent form outside
// [1e-6, 1e21), and non-finite values as null.
func formatNumber(n json.Number) string {
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		var numErr *strconv.NumError
		if !errors.As(err, &numErr) || !errors.Is(numErr.Err, strconv.ErrRange) {
			return n.String()
		}
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "null"
	}
	if f == 0 {
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mantissa, exp, _ := strings.Cut(s, "e")
		sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
		return mantissa + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
