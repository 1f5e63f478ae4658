package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

func ReadCall(data []byte) (*RPCCallMessage, error) {
	call := &RPCCallMessage{}
	_, err := xdr.Unmarshal(bytes.NewReader(data), call)
	if err != nil {
		return nil, fmt.Errorf("unmarshal RPC call: %w", err)
	}

	if call.MsgType != RPCCall {
		return nil, fmt.Errorf("expected CALL (0), got %d", call.MsgType)
	}

	return call, nil
}

// ReadData returns the procedure arguments following the call header.
func ReadData(message []byte) ([]byte, error) {
	// XID, MsgType, RPCVersion, Program, Version, Procedure
	offset := 24

	for i := 0; i < 2; i++ {
		// flavor + length of the credential, then the verifier
		if offset+8 > len(message) {
			return nil, fmt.Errorf("short RPC call header: %d bytes", len(message))
		}
		bodyLen := binary.BigEndian.Uint32(message[offset+4 : offset+8])
		offset += 8 + int(bodyLen) + int((4-(bodyLen%4))%4)
	}

	if offset >= len(message) {
		return []byte{}, nil
	}
	return message[offset:], nil
}

// MakeCall builds a record-marked call message with AUTH_NONE credentials.
func MakeCall(xid, program, version, procedure uint32, args []byte) ([]byte, error) {
	call := RPCCallMessage{
		XID:        xid,
		MsgType:    RPCCall,
		RPCVersion: RPCVersion,
		Program:    program,
		Version:    version,
		Procedure:  procedure,
		Cred:       OpaqueAuth{Flavor: AuthNull, Body: []byte{}},
		Verf:       OpaqueAuth{Flavor: AuthNull, Body: []byte{}},
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &call); err != nil {
		return nil, fmt.Errorf("marshal call: %w", err)
	}
	buf.Write(args)

	return frame(buf.Bytes()), nil
}

func MakeSuccessReply(xid uint32, data []byte) ([]byte, error) {
	reply := RPCReplyMessage{
		XID:        xid,
		MsgType:    RPCReply,
		ReplyState: RPCMsgAccepted,
		Verf: OpaqueAuth{
			Flavor: AuthNull,
			Body:   []byte{},
		},
		AcceptStat: RPCSuccess,
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}
	buf.Write(data)

	return frame(buf.Bytes()), nil
}

// ReadReply validates a reply for xid and returns the procedure results.
func ReadReply(xid uint32, data []byte) ([]byte, error) {
	reader := bytes.NewReader(data)

	var hdr replyHeader
	if _, err := xdr.Unmarshal(reader, &hdr); err != nil {
		return nil, fmt.Errorf("unmarshal reply header: %w", err)
	}
	if hdr.MsgType != RPCReply {
		return nil, fmt.Errorf("expected REPLY (1), got %d", hdr.MsgType)
	}
	if hdr.XID != xid {
		return nil, fmt.Errorf("reply xid %d does not match call xid %d", hdr.XID, xid)
	}
	if hdr.ReplyState != RPCMsgAccepted {
		return nil, fmt.Errorf("call denied (reply state %d)", hdr.ReplyState)
	}

	var acc acceptedReply
	if _, err := xdr.Unmarshal(reader, &acc); err != nil {
		return nil, fmt.Errorf("unmarshal accepted reply: %w", err)
	}
	if acc.AcceptStat != RPCSuccess {
		return nil, fmt.Errorf("call not accepted (accept status %d)", acc.AcceptStat)
	}

	return data[len(data)-reader.Len():], nil
}

// ReadRecord reads one record-marked message, reassembling fragments.
func ReadRecord(r io.Reader) ([]byte, error) {
	var record []byte

	for {
		var header uint32
		if err := binary.Read(r, binary.BigEndian, &header); err != nil {
			return nil, fmt.Errorf("read fragment header: %w", err)
		}

		size := header &^ lastFragment
		if len(record)+int(size) > maxRecordSize {
			return nil, fmt.Errorf("record exceeds %d bytes", maxRecordSize)
		}

		fragment := make([]byte, size)
		if _, err := io.ReadFull(r, fragment); err != nil {
			return nil, fmt.Errorf("read fragment: %w", err)
		}
		record = append(record, fragment...)

		if header&lastFragment != 0 {
			return record, nil
		}
	}
}

// frame prepends a single last-fragment record marker.
func frame(data []byte) []byte {
	out := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(out, lastFragment|uint32(len(data)))
	return append(out, data...)
}
