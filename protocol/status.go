package protocol

import "fmt"

// Status is an NT-style status code carried in every reply and completion.
type Status uint32

const (
	StatusSuccess Status = 0x00000000
	StatusAlerted Status = 0x00000101
	StatusTimeout Status = 0x00000102
	StatusPending Status = 0x00000103

	StatusInvalidHandle        Status = 0xC0000008
	StatusInvalidParameter     Status = 0xC000000D
	StatusNoSuchDevice         Status = 0xC000000E
	StatusInvalidDeviceRequest Status = 0xC0000010
	StatusNoMemory             Status = 0xC0000017
	StatusAccessDenied         Status = 0xC0000022
	StatusObjectTypeMismatch   Status = 0xC0000024
	StatusObjectNameNotFound   Status = 0xC0000034
	StatusSharingViolation     Status = 0xC0000043
	StatusRevisionMismatch     Status = 0xC0000059
	StatusUnexpectedIOError    Status = 0xC00000E9
	StatusTooManyOpenedFiles   Status = 0xC000011F
	StatusCancelled            Status = 0xC0000120
	StatusPipeBroken           Status = 0xC000014B
	StatusNotFound             Status = 0xC0000225
	StatusDeviceRemoved        Status = 0xC00002B6
)

var statusNames = map[Status]string{
	StatusSuccess:              "SUCCESS",
	StatusAlerted:              "ALERTED",
	StatusTimeout:              "TIMEOUT",
	StatusPending:              "PENDING",
	StatusInvalidHandle:        "INVALID_HANDLE",
	StatusInvalidParameter:     "INVALID_PARAMETER",
	StatusNoSuchDevice:         "NO_SUCH_DEVICE",
	StatusInvalidDeviceRequest: "INVALID_DEVICE_REQUEST",
	StatusNoMemory:             "NO_MEMORY",
	StatusAccessDenied:         "ACCESS_DENIED",
	StatusObjectTypeMismatch:   "OBJECT_TYPE_MISMATCH",
	StatusObjectNameNotFound:   "OBJECT_NAME_NOT_FOUND",
	StatusSharingViolation:     "SHARING_VIOLATION",
	StatusRevisionMismatch:     "REVISION_MISMATCH",
	StatusUnexpectedIOError:    "UNEXPECTED_IO_ERROR",
	StatusTooManyOpenedFiles:   "TOO_MANY_OPENED_FILES",
	StatusCancelled:            "CANCELLED",
	StatusPipeBroken:           "PIPE_BROKEN",
	StatusNotFound:             "NOT_FOUND",
	StatusDeviceRemoved:        "DEVICE_REMOVED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("%08x", uint32(s))
}

// IsError reports whether s has the NT error severity.
func (s Status) IsError() bool {
	return s&0xC0000000 == 0xC0000000
}

func (s Status) Error() string {
	return "status " + s.String()
}
