// Package diag centralizes the error handling described in spec.md §7. The
// log-only helpers return nothing: every condition they handle is, by
// design, something the runtime recovers from locally (a no-op instruction,
// a dropped rule action, a clamped program counter, ...). Only checksum
// mismatches at descriptor load time are fatal: ChecksumMismatch logs them
// and returns a *ChecksumError for the caller to propagate.
package diag

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log zerolog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
)

// SetLogger overrides the package logger, e.g. so a host can redirect to its
// own sink or bump the level. Safe to call concurrently with logging calls.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

func logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// UnresolvedName logs the "unresolved name" error kind: an authoring-time
// typo or stale cross-reference into a state, type, component or variable
// name. The affected instruction/rule becomes a no-op; the caller does not
// treat this as an error.
func UnresolvedName(kind, name string, entity uint64) {
	logger().Warn().
		Str("kind", kind).
		Str("name", name).
		Uint64("entity", entity).
		Msg("unresolved name reference; instruction/rule becomes a no-op")
}

// TargetResolutionFailed logs a dangling EntityTarget (parent/child/name)
// that resolved to null. The action that would have used it is dropped.
func TargetResolutionFailed(targetKind string, entity uint64) {
	logger().Warn().
		Str("target_kind", targetKind).
		Uint64("source_entity", entity).
		Msg("entity target resolution failed; action not dispatched")
}

// InstructionOutOfRange logs a program counter escaping its instruction
// stream. The thread is marked complete with PC clamped to the last valid
// instruction by the caller.
func InstructionOutOfRange(entity uint64, threadIndex int32, pc int32, length int) {
	logger().Warn().
		Uint64("entity", entity).
		Int32("thread_index", threadIndex).
		Int32("pc", pc).
		Int("instruction_count", length).
		Msg("instruction out of range; thread marked complete")
}

// AssertFailed logs an authored assertion failure with its message and
// representation; the caller is responsible for stopping the thread.
func AssertFailed(entity uint64, threadIndex int32, message, representation string) {
	logger().Error().
		Uint64("entity", entity).
		Int32("thread_index", threadIndex).
		Str("message", message).
		Str("representation", representation).
		Msg("assertion failed")
}

// NonBooleanComparison logs a condition evaluation that could not coerce to
// bool; callers treat the result as false.
func NonBooleanComparison(conditionKind string) {
	logger().Debug().
		Str("condition_kind", conditionKind).
		Msg("condition evaluation yielded non-boolean result; treated as false")
}

// CommandTargetMissing logs a command handler racing against a decayed
// component; the command is silently dropped by the caller.
func CommandTargetMissing(command string, entity uint64, typeID uint32) {
	logger().Debug().
		Str("command", command).
		Uint64("entity", entity).
		Uint32("type_id", typeID).
		Msg("command handler could not find target component; dropped")
}

// ChecksumMismatch builds the fatal, load-time error for a shared-storage
// reference whose checksum disagrees with the live type registry. This is
// the one §7 kind that propagates as an error rather than a log line.
func ChecksumMismatch(typeID uint32, want, got uint64) error {
	logger().Error().
		Uint32("type_id", typeID).
		Uint64("want_checksum", want).
		Uint64("got_checksum", got).
		Msg("shared-storage checksum mismatch; descriptor rejected")
	return &ChecksumError{TypeID: typeID, Want: want, Got: got}
}

// ChecksumError is returned by descriptor load when a type's registration
// checksum does not match what a compiled IndirectRef expects.
type ChecksumError struct {
	TypeID   uint32
	Want     uint64
	Got      uint64
}

func (e *ChecksumError) Error() string {
	return "entityvm: checksum mismatch for type " + itoa(e.TypeID)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
