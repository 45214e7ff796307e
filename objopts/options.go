package objopts

import (
	"io"
	"log"
)

type option struct {
	t OptionType
	v interface{}
}

func (o *option) Type() OptionType {
	return o.t
}

func (o *option) Value() interface{} {
	return o.v
}

// SocketPath is the filesystem path of the server's unix socket.
func SocketPath(path string) Option {
	return &option{t: TypeSocketPath, v: path}
}

func Logger(l *log.Logger) Option {
	return &option{t: TypeLogger, v: l}
}

// Debug traces every request and reply.
func Debug(v bool) Option {
	return &option{t: TypeDebug, v: v}
}

// VersionConstraint is the semver constraint a client's init version must satisfy.
func VersionConstraint(c string) Option {
	return &option{t: TypeVersionConstraint, v: c}
}

// RetainTermios keeps the raw terminal attributes on device close instead of
// restoring the ones saved at open time.
func RetainTermios(v bool) Option {
	return &option{t: TypeRetainTermios, v: v}
}

// WatchDevices fails pending operations on serial devices whose path disappears.
func WatchDevices(v bool) Option {
	return &option{t: TypeWatchDevices, v: v}
}

// StatsWriter receives the request latency report.
func StatsWriter(w io.Writer) Option {
	return &option{t: TypeStatsWriter, v: w}
}
