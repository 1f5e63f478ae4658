package mount

// MountVersion3 is the MOUNT protocol version paired with NFSv3.
const MountVersion3 = 3

// Mount Protocol Procedure Numbers (RFC 1813 Appendix I)
const (
	MountProcNull    = 0
	MountProcMnt     = 1
	MountProcDump    = 2
	MountProcUmnt    = 3
	MountProcUmntAll = 4
	MountProcExport  = 5
)

// maxListEntries bounds the linked lists accepted from a server.
const maxListEntries = 65536
