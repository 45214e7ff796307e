package protocol

// Fixed-layout bodies. Every field is fixed-size so encoding/binary can lay them out
// little-endian without padding surprises. Variable-length data travels in the tail.

type InitRequest struct {
	ClientPid uint32
	Reserved  uint32
	// tail: client protocol version
}

type InitReply struct {
	ProcessID uint32
	Reserved  uint32
	// tail: server version
}

type CreateSerialRequest struct {
	Access     Access
	Attributes uint32
	Inherit    uint32
	Reserved   uint32
	// tail: device path
}

type CreateEventRequest struct {
	Access       Access
	ManualReset  uint32
	InitialState uint32
	Inherit      uint32
}

// HandleRequest is the body of every request that only names a handle.
type HandleRequest struct {
	Handle   Handle
	Reserved uint32
}

type HandleReply struct {
	Handle   Handle
	Reserved uint32
}

type DupHandleRequest struct {
	Handle     Handle
	DstProcess uint32
	Access     Access
	Options    uint32
}

type FileInfoReply struct {
	Type           uint32
	Attributes     uint32
	Flags          uint32
	Reserved       uint32
	Size           uint64
	CreationTime   uint64
	LastAccessTime uint64
	LastWriteTime  uint64
}

type SerialInfo struct {
	ReadInterval uint32
	ReadConst    uint32
	ReadMult     uint32
	WriteConst   uint32
	WriteMult    uint32
	EventMask    uint32
	CommError    uint32
	PendingWrite uint32
}

type SetSerialInfoRequest struct {
	Handle Handle
	Flags  uint32
	Info   SerialInfo
}

// QueueAsyncRequest registers (Status == StatusPending) or terminates (any other
// status) the operation identified by (Thread, Token) on Handle.
type QueueAsyncRequest struct {
	Handle   Handle
	Type     AsyncType
	Status   Status
	Thread   uint32
	Token    uint64
	Count    uint32
	Reserved uint32
	// tail: data to write for AsyncWrite
}

type WaitRequest struct {
	Handle    Handle
	Thread    uint32
	Token     uint64
	TimeoutMs int32
	Reserved  uint32
}

// Completion is the body of a KindCompletion message. The terminal status is in the
// message header.
type Completion struct {
	Thread      uint32
	Type        AsyncType
	Token       uint64
	Transferred uint32
	Events      uint32
	// tail: data read for AsyncRead
}
