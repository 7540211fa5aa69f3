package privacylog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

const redacted = "[REDACTED]"

// Secrets are dropped outright. Correlatable but identifying values (peer
// addresses, signatures, publisher labels) are replaced with a per-process
// fingerprint so a single run can still be followed in the logs.
var (
	processSalt = newSalt()
	secretMarks = []string{"private", "key", "mnemonic", "seed", "token", "secret", "password", "passphrase", "authorization"}
)

var fingerprints = map[string]bool{
	"signature":   true,
	"remote_addr": true,
	"label":       true,
	"payload":     true,
}

// New returns a JSON logger writing to w through the redacting handler.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(WrapHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}

type redactingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return redactingHandler{next: next}
}

func (h redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h redactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = SanitizeAttr(attr)
	}
	return redactingHandler{next: h.next.WithAttrs(clean)}
}

func (h redactingHandler) WithGroup(name string) slog.Handler {
	return redactingHandler{next: h.next.WithGroup(name)}
}

// SanitizeAttr applies the redaction rules to one attribute, descending into
// groups.
func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	switch classify(key) {
	case classSecret:
		return slog.String(key, redacted)
	case classFingerprint:
		return slog.String(fingerprintKey(key), Fingerprint(render(attr.Value.Resolve())))
	}
	if attr.Value.Kind() != slog.KindGroup {
		return attr
	}
	members := attr.Value.Group()
	clean := make([]slog.Attr, len(members))
	for i, member := range members {
		clean[i] = SanitizeAttr(member)
	}
	return slog.Attr{Key: key, Value: slog.GroupValue(clean...)}
}

// SanitizeArgs applies the same rules to loose key/value pairs as passed to
// Logger.Info and friends.
func SanitizeArgs(args ...any) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, 0, len(args))
	for i := 0; i < len(args); i++ {
		key, ok := args[i].(string)
		if !ok || i+1 == len(args) {
			out = append(out, args[i])
			continue
		}
		i++
		attr := SanitizeAttr(slog.Any(key, args[i]))
		out = append(out, attr.Key, attr.Value.Any())
	}
	return out
}

// Fingerprint is a salted keccak256 prefix. It is stable within one process
// and unlinkable across restarts.
func Fingerprint(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := crypto.Keccak256([]byte(processSalt), []byte(trimmed))
	return "fp_" + hex.EncodeToString(sum[:8])
}

type attrClass int

const (
	classPlain attrClass = iota
	classSecret
	classFingerprint
)

func classify(key string) attrClass {
	lower := strings.ToLower(key)
	for _, mark := range secretMarks {
		if strings.Contains(lower, mark) {
			return classSecret
		}
	}
	if fingerprints[strings.TrimSuffix(lower, "_fp")] {
		return classFingerprint
	}
	return classPlain
}

func fingerprintKey(key string) string {
	if strings.HasSuffix(strings.ToLower(key), "_fp") {
		return key
	}
	return key + "_fp"
}

func render(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().UTC().Format("2006-01-02T15:04:05.000000000Z")
	case slog.KindAny:
		if s, ok := v.Any().(fmt.Stringer); ok {
			return s.String()
		}
		if b, ok := v.Any().([]byte); ok {
			return string(b)
		}
	}
	return fmt.Sprint(v.Any())
}

func newSalt() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "privacylog"
	}
	return hex.EncodeToString(buf)
}
