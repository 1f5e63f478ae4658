// Package mount encodes and decodes the MOUNT protocol EXPORT procedure
// (RFC 1813 Appendix I), used to check what a server actually advertises.
package mount

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ExportResponse is the server's export list.
type ExportResponse struct {
	Entries []ExportEntry
}

// ExportEntry corresponds to "exportnode" in RFC 1813 Appendix I.
type ExportEntry struct {
	// Directory is the exported path.
	Directory string

	// Groups are the clients allowed to mount Directory. Empty means
	// world-exportable.
	Groups []string
}

// Directories returns the exported paths in server order.
func (resp *ExportResponse) Directories() []string {
	dirs := make([]string, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		dirs = append(dirs, e.Directory)
	}
	return dirs
}

// Encode serializes the ExportResponse into XDR.
//
// The export list and each entry's group list are XDR optional-data linked
// lists: every node is preceded by value_follows = TRUE and the list ends
// with value_follows = FALSE.
func (resp *ExportResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	for _, entry := range resp.Entries {
		if err := binary.Write(&buf, binary.BigEndian, uint32(1)); err != nil {
			return nil, fmt.Errorf("write value_follows: %w", err)
		}
		writeString(&buf, entry.Directory)

		for _, group := range entry.Groups {
			if err := binary.Write(&buf, binary.BigEndian, uint32(1)); err != nil {
				return nil, fmt.Errorf("write groups value_follows: %w", err)
			}
			writeString(&buf, group)
		}

		if err := binary.Write(&buf, binary.BigEndian, uint32(0)); err != nil {
			return nil, fmt.Errorf("write groups end marker: %w", err)
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, uint32(0)); err != nil {
		return nil, fmt.Errorf("write final value_follows: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeExportResponse parses the results of an EXPORT call.
func DecodeExportResponse(data []byte) (*ExportResponse, error) {
	reader := bytes.NewReader(data)
	resp := &ExportResponse{}

	for {
		more, err := readBool(reader)
		if err != nil {
			return nil, fmt.Errorf("read export value_follows: %w", err)
		}
		if !more {
			return resp, nil
		}
		if len(resp.Entries) >= maxListEntries {
			return nil, fmt.Errorf("export list exceeds %d entries", maxListEntries)
		}

		dir, err := readString(reader)
		if err != nil {
			return nil, fmt.Errorf("read directory: %w", err)
		}

		entry := ExportEntry{Directory: dir}
		for {
			more, err := readBool(reader)
			if err != nil {
				return nil, fmt.Errorf("read groups value_follows: %w", err)
			}
			if !more {
				break
			}
			if len(entry.Groups) >= maxListEntries {
				return nil, fmt.Errorf("group list for %s exceeds %d entries", dir, maxListEntries)
			}

			group, err := readString(reader)
			if err != nil {
				return nil, fmt.Errorf("read group: %w", err)
			}
			entry.Groups = append(entry.Groups, group)
		}

		resp.Entries = append(resp.Entries, entry)
	}
}

func writeString(buf *bytes.Buffer, s string) {
	n := uint32(len(s))
	_ = binary.Write(buf, binary.BigEndian, n)
	buf.WriteString(s)
	buf.Write(make([]byte, (4-(n%4))%4))
}

func readBool(r io.Reader) (bool, error) {
	var v uint32
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("invalid XDR bool %d", v)
	}
}

// readString decodes an XDR string: length, data, padding to 4 bytes.
func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", fmt.Errorf("read length: %w", err)
	}
	if int64(n) > int64(r.Len()) {
		return "", fmt.Errorf("string length %d exceeds remaining %d bytes", n, r.Len())
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", fmt.Errorf("read data: %w", err)
	}
	if pad := (4 - (n % 4)) % 4; pad > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(pad)); err != nil {
			return "", fmt.Errorf("skip padding: %w", err)
		}
	}
	return string(data), nil
}
