// Package archive persists completed result sets.
package archive

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/dd0wney/cluso-gridsim/pkg/aggregate"
	"github.com/golang/snappy"
)

// Format: [Magic:4][Checksum:4][Data:N], Data is snappy-compressed JSON and
// Checksum is the CRC32 (IEEE) of Data.
var magic = []byte("GSR1")

const headerLen = 8

// ErrCorrupt is returned for data that fails the header or checksum check
var ErrCorrupt = errors.New("archive: corrupt result set")

// Encode serializes and compresses rs
func Encode(rs *aggregate.ResultSet) ([]byte, error) {
	raw, err := json.Marshal(rs)
	if err != nil {
		return nil, fmt.Errorf("marshal result set: %w", err)
	}
	compressed := snappy.Encode(nil, raw)

	out := make([]byte, headerLen, headerLen+len(compressed))
	copy(out, magic)
	binary.BigEndian.PutUint32(out[4:8], crc32.ChecksumIEEE(compressed))
	return append(out, compressed...), nil
}

// Decode reverses Encode
func Decode(data []byte) (*aggregate.ResultSet, error) {
	if len(data) < headerLen || !bytes.Equal(data[:4], magic) {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	compressed := data[headerLen:]
	if crc32.ChecksumIEEE(compressed) != binary.BigEndian.Uint32(data[4:8]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var rs aggregate.ResultSet
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("unmarshal result set: %w", err)
	}
	return &rs, nil
}
