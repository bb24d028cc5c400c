// Package obslog implements the append-only observation log written by
// instrumented programs: one line per integer value seen on a branch side.
package obslog

import (
	"fmt"
	"log"
	"os"
)

// DefaultPath is the log file used when EnvPath is unset or empty.
const DefaultPath = "vase_value_log.txt"

// EnvPath names the environment variable read at startup for the log path.
const EnvPath = "VASE_LOG"

// EntryBranch is the sentinel branch value used for arguments logged at
// function entry, as opposed to an actual true/false branch side.
const EntryBranch = -1

// Sink is an append-only destination for observation records. A Sink is
// safe to address from forked child processes: each call opens the file in
// append mode and relies on the OS's atomic single-write semantics rather
// than any in-process lock.
type Sink struct {
	path string
}

// NewSink returns a Sink writing to path, or DefaultPath if path is empty.
func NewSink(path string) *Sink {
	if path == "" {
		path = DefaultPath
	}
	return &Sink{path: path}
}

// NewSinkFromEnv returns a Sink whose path is read from the named
// environment variable, falling back to DefaultPath.
func NewSinkFromEnv(env string) *Sink {
	return NewSink(os.Getenv(env))
}

// Path returns the file the sink appends to.
func (s *Sink) Path() string { return s.path }

// Record appends one observation in the canonical textual form
// "loc:<N>:branch:<B>\t<name>:<val>\n". Failure to open or write the sink
// is reported to the log package and otherwise ignored; it never aborts
// the host program.
func (s *Sink) Record(loc int, branch int, name string, val int32) {
	line := fmt.Sprintf("loc:%d:branch:%d\t%s:%d\n", loc, branch, name, val)

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("[obslog] open %s: %s", s.path, err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		log.Printf("[obslog] write %s: %s", s.path, err)
	}
}

var defaultSink = NewSinkFromEnv(EnvPath)

// Observe records one observation on the process-wide default sink. This
// is the function instrumented call sites invoke.
func Observe(loc, branch int, name string, val int32) {
	defaultSink.Record(loc, branch, name, val)
}
