package rpc

// RPCVersion is the ONC RPC protocol version (RFC 5531).
const RPCVersion = 2

// RPC Program Numbers
const (
	// ProgramPortmap is the port mapper program number (RFC 1833)
	ProgramPortmap = 100000

	// ProgramNFS is the NFS program number (RFC 1813)
	ProgramNFS = 100003

	// ProgramMount is the Mount protocol program number (RFC 1813 Appendix I)
	ProgramMount = 100005
)

// RPC Message Types
const (
	RPCCall  = 0
	RPCReply = 1
)

// RPC Reply States
const (
	RPCMsgAccepted = 0
	RPCMsgDenied   = 1
)

// RPC Accept Status
const (
	RPCSuccess      = 0
	RPCProgUnavail  = 1
	RPCProgMismatch = 2
	RPCProcUnavail  = 3
	RPCGarbageArgs  = 4
	RPCSystemErr    = 5
)

// AuthNull is the AUTH_NONE credential flavor.
const AuthNull = 0

// lastFragment marks the final fragment of a record (RFC 5531 Section 11).
const lastFragment = 0x80000000

// maxRecordSize bounds a reassembled record.
const maxRecordSize = 4 << 20
