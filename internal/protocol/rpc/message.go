package rpc

type RPCCallMessage struct {
	XID        uint32
	MsgType    uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	Cred       OpaqueAuth
	Verf       OpaqueAuth
}

// replyHeader is the part of a reply common to accepted and denied replies.
type replyHeader struct {
	XID        uint32
	MsgType    uint32
	ReplyState uint32
}

// acceptedReply follows replyHeader when ReplyState is RPCMsgAccepted.
type acceptedReply struct {
	Verf       OpaqueAuth
	AcceptStat uint32
}

type RPCReplyMessage struct {
	XID        uint32
	MsgType    uint32 // 1 = REPLY
	ReplyState uint32 // 0 = MSG_ACCEPTED
	Verf       OpaqueAuth
	AcceptStat uint32 // 0 = SUCCESS
	// Reply data follows
}

type OpaqueAuth struct {
	Flavor uint32
	Body   []byte `xdr:"opaque"`
}
