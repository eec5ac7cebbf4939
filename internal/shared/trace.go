package shared

import (
	"os"
	"os/user"
	"strconv"
	"sync"
)

// Version is the program version reported in owner traces and request headers.
var Version = "0.1.0"

// Trace identifies the process talking to the catalogue.
type Trace struct {
	Host    string
	User    string
	PID     int
	Version string
}

var (
	traceOnce sync.Once
	trace     Trace
)

// ProcessTrace returns the [Trace] of the running process. It is computed once.
func ProcessTrace() Trace {
	traceOnce.Do(func() {
		trace = Trace{PID: os.Getpid(), Version: Version}
		if host, err := os.Hostname(); err == nil {
			trace.Host = host
		}
		if u, err := user.Current(); err == nil {
			trace.User = u.Username
		}
	})
	return trace
}

// Headers renders the trace as HTTP headers sent with every catalogue request.
func (t Trace) Headers() map[string]string {
	return map[string]string{
		"X-Regq-Host":    t.Host,
		"X-Regq-User":    t.User,
		"X-Regq-Pid":     strconv.Itoa(t.PID),
		"X-Regq-Version": t.Version,
	}
}
