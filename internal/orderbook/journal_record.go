package orderbook

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/tradecore/engine/internal/schema"
)

// Journal record framing (spec §4.3, §6): magic, version, header size,
// event type, schema version, payload length, sequence number, event
// and receive timestamps, followed by the payload and a trailing
// CRC32-Castagnoli checksum over header+payload. Adapted from the
// teacher's internal/recorder WAL frame, trimmed to the header fields
// this domain's schema.EventHeader actually carries.
const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 40
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'J', 'R', 'N', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic            = errors.New("journal: invalid magic")
	ErrUnsupportedRecordVer    = errors.New("journal: unsupported record version")
	ErrInvalidRecordHeaderSize = errors.New("journal: invalid header size")
)

func encodeHeader(dst []byte, header schema.EventHeader, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(header.Type))
	binary.LittleEndian.PutUint16(dst[10:12], header.Version)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[16:24], header.Seq)
	binary.LittleEndian.PutUint64(dst[24:32], uint64(header.TsEvent))
	binary.LittleEndian.PutUint64(dst[32:40], uint64(header.TsRecv))
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

func decodeRecordHeader(src []byte) (schema.EventHeader, uint32, error) {
	if len(src) < recordHeaderSize {
		return schema.EventHeader{}, 0, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return schema.EventHeader{}, 0, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return schema.EventHeader{}, 0, ErrUnsupportedRecordVer
	}
	if headerSize := binary.LittleEndian.Uint16(src[6:8]); headerSize != recordHeaderSize {
		return schema.EventHeader{}, 0, ErrInvalidRecordHeaderSize
	}
	payloadLen := binary.LittleEndian.Uint32(src[12:16])
	h := schema.EventHeader{
		Type:    schema.EventType(binary.LittleEndian.Uint16(src[8:10])),
		Version: binary.LittleEndian.Uint16(src[10:12]),
		Seq:     binary.LittleEndian.Uint64(src[16:24]),
		TsEvent: int64(binary.LittleEndian.Uint64(src[24:32])),
		TsRecv:  int64(binary.LittleEndian.Uint64(src[32:40])),
	}
	return h, payloadLen, nil
}
