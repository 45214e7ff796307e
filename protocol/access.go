package protocol

// Access rights granted to a handle.
type Access uint32

const (
	FileReadData        Access = 0x00000001
	FileWriteData       Access = 0x00000002
	FileReadAttributes  Access = 0x00000080
	FileWriteAttributes Access = 0x00000100
	EventQueryState     Access = 0x00000001
	EventModifyState    Access = 0x00000002
	Delete              Access = 0x00010000
	ReadControl         Access = 0x00020000
	Synchronize         Access = 0x00100000

	GenericRead    Access = 0x80000000
	GenericWrite   Access = 0x40000000
	GenericExecute Access = 0x20000000
	GenericAll     Access = 0x10000000

	genericMask  = GenericRead | GenericWrite | GenericExecute | GenericAll
	specificMask = 0x0000FFFF
	standardMask = 0x001F0000
)

// GenericMapping maps the generic rights of a kind of object onto its specific rights.
type GenericMapping struct {
	Read, Write, Execute, All Access
}

var (
	FileMapping = GenericMapping{
		Read:    FileReadData | FileReadAttributes | ReadControl | Synchronize,
		Write:   FileWriteData | FileWriteAttributes | ReadControl | Synchronize,
		Execute: FileReadAttributes | ReadControl | Synchronize,
		All:     specificMask | standardMask,
	}
	EventMapping = GenericMapping{
		Read:    EventQueryState | ReadControl,
		Write:   EventModifyState | ReadControl,
		Execute: Synchronize,
		All:     specificMask | standardMask,
	}
)

// Map replaces the generic bits of a with the rights they stand for.
func (m GenericMapping) Map(a Access) Access {
	out := a &^ genericMask
	if a&GenericRead != 0 {
		out |= m.Read
	}
	if a&GenericWrite != 0 {
		out |= m.Write
	}
	if a&GenericExecute != 0 {
		out |= m.Execute
	}
	if a&GenericAll != 0 {
		out |= m.All
	}
	return out
}

// Duplicate options.
const (
	DupCloseSource uint32 = 0x1
	DupSameAccess  uint32 = 0x2
)
