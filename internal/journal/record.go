// Package journal persists market data events to segmented binary files and
// plays them back in recorded order. Each record carries a magic, a version
// and a CRC32-C over header and payload, so torn or corrupt tails are
// detected instead of replayed.
package journal

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/yanun0323/errors"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/security"
)

// EventType tags the payload encoding of a record.
type EventType uint16

const (
	EventTrade EventType = 1
	EventBook  EventType = 2
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 40
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'M', 'D', 'J', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic            = errors.New("journal invalid magic")
	ErrUnsupportedRecordVer    = errors.New("journal unsupported record version")
	ErrInvalidRecordHeaderSize = errors.New("journal invalid header size")
	ErrBadPayload              = errors.New("journal malformed payload")
)

// Header describes one journaled event.
type Header struct {
	Type EventType
	Seq  uint64
	// Time is the event timestamp in unix nanoseconds.
	Time int64
}

// TradeRecord is the payload of an EventTrade record.
type TradeRecord struct {
	SymbolKey string
	Side      enum.OrderSide
	Price     model.Price
	Qty       model.Quantity
}

// BookRecord is the payload of an EventBook record. Levels keep the
// best-first ordering they were recorded with.
type BookRecord struct {
	SymbolKey string
	Bids      []security.Level
	Asks      []security.Level
}

func encodeHeader(dst []byte, header Header, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(header.Type))
	binary.LittleEndian.PutUint16(dst[10:12], 0)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[16:24], header.Seq)
	binary.LittleEndian.PutUint64(dst[24:32], uint64(header.Time))
	binary.LittleEndian.PutUint64(dst[32:40], 0)
}

func decodeRecordHeader(src []byte) (Header, uint32, error) {
	if len(src) < recordHeaderSize {
		return Header{}, 0, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return Header{}, 0, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return Header{}, 0, ErrUnsupportedRecordVer
	}
	if headerSize := binary.LittleEndian.Uint16(src[6:8]); headerSize != recordHeaderSize {
		return Header{}, 0, ErrInvalidRecordHeaderSize
	}
	payloadLen := binary.LittleEndian.Uint32(src[12:16])
	h := Header{
		Type: EventType(binary.LittleEndian.Uint16(src[8:10])),
		Seq:  binary.LittleEndian.Uint64(src[16:24]),
		Time: int64(binary.LittleEndian.Uint64(src[24:32])),
	}
	return h, payloadLen, nil
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

func encodeTrade(dst []byte, r TradeRecord) []byte {
	dst = append(dst, byte(r.Side))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(r.Price))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(r.Qty))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(r.SymbolKey)))
	dst = append(dst, r.SymbolKey...)
	return dst
}

// DecodeTrade parses an EventTrade payload.
func DecodeTrade(src []byte) (TradeRecord, error) {
	if len(src) < 19 {
		return TradeRecord{}, errors.Wrap(ErrBadPayload, "trade record too short")
	}
	r := TradeRecord{
		Side:  enum.OrderSide(src[0]),
		Price: model.Price(binary.LittleEndian.Uint64(src[1:9])),
		Qty:   model.Quantity(binary.LittleEndian.Uint64(src[9:17])),
	}
	keyLen := int(binary.LittleEndian.Uint16(src[17:19]))
	if len(src) != 19+keyLen {
		return TradeRecord{}, errors.Wrap(ErrBadPayload, "trade record length mismatch")
	}
	r.SymbolKey = string(src[19 : 19+keyLen])
	return r, nil
}

func encodeBook(dst []byte, r BookRecord) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(r.SymbolKey)))
	dst = append(dst, r.SymbolKey...)
	dst = appendLevels(dst, r.Bids)
	dst = appendLevels(dst, r.Asks)
	return dst
}

func appendLevels(dst []byte, levels []security.Level) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(levels)))
	for _, l := range levels {
		dst = binary.LittleEndian.AppendUint64(dst, uint64(l.Price))
		dst = binary.LittleEndian.AppendUint64(dst, uint64(l.Qty))
	}
	return dst
}

// DecodeBook parses an EventBook payload.
func DecodeBook(src []byte) (BookRecord, error) {
	if len(src) < 2 {
		return BookRecord{}, errors.Wrap(ErrBadPayload, "book record too short")
	}
	keyLen := int(binary.LittleEndian.Uint16(src[0:2]))
	src = src[2:]
	if len(src) < keyLen {
		return BookRecord{}, errors.Wrap(ErrBadPayload, "book record key truncated")
	}
	r := BookRecord{SymbolKey: string(src[:keyLen])}
	src = src[keyLen:]

	var err error
	if r.Bids, src, err = readLevels(src); err != nil {
		return BookRecord{}, err
	}
	if r.Asks, src, err = readLevels(src); err != nil {
		return BookRecord{}, err
	}
	if len(src) != 0 {
		return BookRecord{}, errors.Wrap(ErrBadPayload, "book record trailing bytes")
	}
	return r, nil
}

func readLevels(src []byte) ([]security.Level, []byte, error) {
	if len(src) < 2 {
		return nil, nil, errors.Wrap(ErrBadPayload, "level count truncated")
	}
	count := int(binary.LittleEndian.Uint16(src[0:2]))
	src = src[2:]
	if len(src) < count*16 {
		return nil, nil, errors.Wrap(ErrBadPayload, "levels truncated")
	}
	var levels []security.Level
	for i := 0; i < count; i++ {
		levels = append(levels, security.Level{
			Price: model.Price(binary.LittleEndian.Uint64(src[i*16 : i*16+8])),
			Qty:   model.Quantity(binary.LittleEndian.Uint64(src[i*16+8 : i*16+16])),
		})
	}
	return levels, src[count*16:], nil
}
