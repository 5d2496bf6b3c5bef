package dht

import (
	"encoding/binary"
	"fmt"
	"io"

	cerr "github.com/cis-project/cis/pkg/errors"
)

const maxFrameSize = 16 << 20 // 16 MiB, generous for a memory entry or node list

// writeFrame writes a 4-byte big-endian length prefix followed by payload.
func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame is the inverse of writeFrame.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, cerr.Network(fmt.Sprintf("frame of %d bytes exceeds max %d", length, maxFrameSize), nil)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
