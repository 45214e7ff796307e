package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/valyala/bytebufferpool"
)

const (
	RequestHeaderLen = 8  // opcode, size
	ReplyHeaderLen   = 12 // kind, status, size

	// MaxRequestSize bounds the body+tail of a single request.
	MaxRequestSize = 64 * 1024
)

var (
	ErrNeedMore        = errors.New("need to read more bytes")
	ErrRequestTooLarge = errors.New("request exceeds the maximum size")
	ErrShortBody       = errors.New("body shorter than its fixed layout")
	ErrUnknownOpcode   = errors.New("unknown opcode")
)

type RequestHeader struct {
	Opcode Opcode
	Size   uint32
}

type ReplyHeader struct {
	Kind   MessageKind
	Status Status
	Size   uint32
}

var pool bytebufferpool.Pool

// EncodeRequest frames a request. The returned buffer must be handed back with Release.
func EncodeRequest(op Opcode, body any, tail []byte) *bytebufferpool.ByteBuffer {
	return encode(RequestHeaderLen, body, tail, func(hdr []byte, size uint32) {
		binary.LittleEndian.PutUint32(hdr[0:], uint32(op))
		binary.LittleEndian.PutUint32(hdr[4:], size)
	})
}

// EncodeReply frames a reply or a completion. The returned buffer must be handed
// back with Release.
func EncodeReply(kind MessageKind, status Status, body any, tail []byte) *bytebufferpool.ByteBuffer {
	return encode(ReplyHeaderLen, body, tail, func(hdr []byte, size uint32) {
		binary.LittleEndian.PutUint32(hdr[0:], uint32(kind))
		binary.LittleEndian.PutUint32(hdr[4:], uint32(status))
		binary.LittleEndian.PutUint32(hdr[8:], size)
	})
}

func encode(
	hdrLen int,
	body any,
	tail []byte,
	putHeader func(hdr []byte, size uint32),
) *bytebufferpool.ByteBuffer {
	buf := pool.Get()

	var hdr [ReplyHeaderLen]byte
	_, _ = buf.Write(hdr[:hdrLen])
	if body != nil {
		if err := binary.Write(buf, binary.LittleEndian, body); err != nil {
			panic(fmt.Errorf("protocol: body %T is not fixed-size: %w", body, err))
		}
	}
	_, _ = buf.Write(tail)

	putHeader(buf.B[:hdrLen], uint32(buf.Len()-hdrLen))
	return buf
}

func Release(buf *bytebufferpool.ByteBuffer) {
	pool.Put(buf)
}

func ParseRequestHeader(b []byte) (hdr RequestHeader, err error) {
	if len(b) < RequestHeaderLen {
		return hdr, ErrNeedMore
	}
	hdr.Opcode = Opcode(binary.LittleEndian.Uint32(b[0:]))
	hdr.Size = binary.LittleEndian.Uint32(b[4:])
	if hdr.Size > MaxRequestSize {
		return hdr, ErrRequestTooLarge
	}
	return hdr, nil
}

func ParseReplyHeader(b []byte) (hdr ReplyHeader, err error) {
	if len(b) < ReplyHeaderLen {
		return hdr, ErrNeedMore
	}
	hdr.Kind = MessageKind(binary.LittleEndian.Uint32(b[0:]))
	hdr.Status = Status(binary.LittleEndian.Uint32(b[4:]))
	hdr.Size = binary.LittleEndian.Uint32(b[8:])
	return hdr, nil
}

// DecodeBody fills body, a pointer to a fixed-layout struct, from the front of payload and
// returns what follows it.
func DecodeBody(payload []byte, body any) (tail []byte, err error) {
	n := binary.Size(body)
	if n < 0 {
		panic(fmt.Errorf("protocol: body %T is not fixed-size", body))
	}
	if len(payload) < n {
		return nil, ErrShortBody
	}
	if err := binary.Read(bytes.NewReader(payload[:n]), binary.LittleEndian, body); err != nil {
		return nil, err
	}
	return payload[n:], nil
}

// NewRequestBody returns a pointer to the zero body of op.
func NewRequestBody(op Opcode) (any, error) {
	switch op {
	case OpInit:
		return &InitRequest{}, nil
	case OpCreateSerial:
		return &CreateSerialRequest{}, nil
	case OpCreateEvent:
		return &CreateEventRequest{}, nil
	case OpSetEvent, OpResetEvent, OpCloseHandle, OpGetFileInfo, OpGetSerialInfo, OpFlush, OpDump:
		return &HandleRequest{}, nil
	case OpDupHandle:
		return &DupHandleRequest{}, nil
	case OpSetSerialInfo:
		return &SetSerialInfoRequest{}, nil
	case OpQueueAsync:
		return &QueueAsyncRequest{}, nil
	case OpWait:
		return &WaitRequest{}, nil
	default:
		return nil, ErrUnknownOpcode
	}
}
