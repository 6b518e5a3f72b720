// Package capturecmd builds canonical CLI invocations for the external
// programs the relay drives: the ffmpeg frame grabber and the snapshot
// uploader. It also owns the uploader's stdout contract.
//
// This is a pure "command construction" package: no execution, no I/O.
// Process lifecycle belongs in internal/infrastructure/processmgr.
//
// Usage:
//
//	argv := capturecmd.FFmpegSnapshot("ffmpeg", url, "tmp/snapshot.jpg", "tcp")
//	s    := capturecmd.JoinQuoted(argv) // for logs
package capturecmd

import (
	"strconv"
	"strings"
)

// Builder constructs argv and shell-safe command strings.
//
// The Builder implements a fluent API; it is NOT concurrency-safe.
// argv[0] is always the binary given to NewBuilder.
type Builder struct {
	args []string
}

// NewBuilder returns a Builder pre-seeded with the binary name.
func NewBuilder(bin string) *Builder {
	return &Builder{args: []string{bin}}
}

// WithIntFlag appends a flag with a base-10 int value (always emitted).
func (b *Builder) WithIntFlag(flag string, val int) *Builder {
	b.args = append(b.args, flag, strconv.Itoa(val))
	return b
}

// WithStringFlag appends a flag with a string value if non-empty.
func (b *Builder) WithStringFlag(flag, val string) *Builder {
	if val != "" {
		b.args = append(b.args, flag, val)
	}
	return b
}

// WithAssignFlag appends --flag=value if value is non-empty.
func (b *Builder) WithAssignFlag(flag, val string) *Builder {
	if val != "" {
		b.args = append(b.args, flag+"="+val)
	}
	return b
}

// WithString appends a positional argument if non-empty.
func (b *Builder) WithString(arg string) *Builder {
	if arg != "" {
		b.args = append(b.args, arg)
	}
	return b
}

// BuildArgv returns a copy of the constructed argument vector.
func (b *Builder) BuildArgv() []string {
	out := make([]string, len(b.args))
	copy(out, b.args)
	return out
}

// JoinQuoted single-quotes every token and joins them with spaces.
func JoinQuoted(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shQuote(a)
	}
	return strings.Join(quoted, " ")
}

// shQuote returns a POSIX-safe single-quoted token. Empty strings become ”.
func shQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
