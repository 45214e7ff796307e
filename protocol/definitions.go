package protocol

import "fmt"

// Version is the protocol version this package speaks.
const Version = "1.2.0"

type Opcode uint32

const (
	OpInit Opcode = iota
	OpCreateSerial
	OpCreateEvent
	OpSetEvent
	OpResetEvent
	OpCloseHandle
	OpDupHandle
	OpGetFileInfo
	OpGetSerialInfo
	OpSetSerialInfo
	OpQueueAsync
	OpFlush
	OpWait
	OpDump
	MaxOpcode
)

func (op Opcode) String() string {
	switch op {
	case OpInit:
		return "init"
	case OpCreateSerial:
		return "create_serial"
	case OpCreateEvent:
		return "create_event"
	case OpSetEvent:
		return "set_event"
	case OpResetEvent:
		return "reset_event"
	case OpCloseHandle:
		return "close_handle"
	case OpDupHandle:
		return "dup_handle"
	case OpGetFileInfo:
		return "get_file_info"
	case OpGetSerialInfo:
		return "get_serial_info"
	case OpSetSerialInfo:
		return "set_serial_info"
	case OpQueueAsync:
		return "queue_async"
	case OpFlush:
		return "flush"
	case OpWait:
		return "wait"
	case OpDump:
		return "dump"
	default:
		return fmt.Sprintf("opcode_%d", uint32(op))
	}
}

// MessageKind distinguishes the two kinds of server messages sharing a connection.
type MessageKind uint32

const (
	KindReply MessageKind = iota + 1
	KindCompletion
)

type Handle uint32

const InvalidHandle Handle = 0

// AsyncType selects the queue an asynchronous operation is placed on.
type AsyncType uint32

const (
	AsyncRead AsyncType = iota + 1
	AsyncWrite
	AsyncWait
	// AsyncSelect tags the completion of an OpWait.
	AsyncSelect
)

func (t AsyncType) String() string {
	switch t {
	case AsyncRead:
		return "read"
	case AsyncWrite:
		return "write"
	case AsyncWait:
		return "wait"
	case AsyncSelect:
		return "select"
	default:
		return fmt.Sprintf("async_%d", uint32(t))
	}
}

// FileFlagOverlapped in CreateSerialRequest.Attributes opens the device for overlapped I/O.
const FileFlagOverlapped uint32 = 0x40000000

// Flags reported by get_file_info.
const (
	FdFlagOverlapped uint32 = 0x01
	FdFlagTimeout    uint32 = 0x02
)

const (
	FileTypeUnknown uint32 = 0
	FileTypeDisk    uint32 = 1
	FileTypeChar    uint32 = 2
)

const FileAttributeDevice uint32 = 0x40

// MaxDword is the COMMTIMEOUTS "infinite"/"special" value.
const MaxDword uint32 = 0xFFFFFFFF

// Selectors for SetSerialInfoRequest.Flags.
const (
	SerialInfoTimeouts  uint32 = 0x1
	SerialInfoEventMask uint32 = 0x2
	SerialInfoCommError uint32 = 0x4
)

// WaitCommEvent event bits.
const (
	EvRxChar  uint32 = 0x0001
	EvRxFlag  uint32 = 0x0002
	EvTxEmpty uint32 = 0x0004
	EvCts     uint32 = 0x0008
	EvDsr     uint32 = 0x0010
	EvRlsd    uint32 = 0x0020
	EvBreak   uint32 = 0x0040
	EvErr     uint32 = 0x0080
	EvRing    uint32 = 0x0100
)

// InfiniteTimeout in WaitRequest.TimeoutMs waits forever.
const InfiniteTimeout int32 = -1
