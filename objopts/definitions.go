package objopts

import "fmt"

type OptionType uint8

type Option interface {
	Type() OptionType
	Value() interface{}
}

const (
	TypeSocketPath OptionType = iota
	TypeLogger
	TypeDebug
	TypeVersionConstraint
	TypeRetainTermios
	TypeWatchDevices
	TypeStatsWriter
	MaxOption
)

func (t OptionType) String() string {
	switch t {
	case TypeSocketPath:
		return "socket_path"
	case TypeLogger:
		return "logger"
	case TypeDebug:
		return "debug"
	case TypeVersionConstraint:
		return "version_constraint"
	case TypeRetainTermios:
		return "retain_termios"
	case TypeWatchDevices:
		return "watch_devices"
	case TypeStatsWriter:
		return "stats_writer"
	default:
		panic(fmt.Errorf("invalid option %d", t))
	}
}

func AddOption(add Option, opts []Option) []Option {
	for i, cur := range opts {
		if cur.Type() == add.Type() {
			opts[i] = add
			return opts
		}
	}
	opts = append(opts, add)
	return opts
}

func DelOption(del OptionType, opts []Option) []Option {
	for i := 0; i < len(opts); i++ {
		if opts[i].Type() == del {
			return append(opts[:i], opts[i+1:]...)
		}
	}
	return opts
}
