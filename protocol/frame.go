package protocol

import (
	"errors"
	"sync/atomic"
)

var ErrFrameTooLong = errors.New("protocol: message block exceeds 64 bytes")

// frameDecoder splits a byte stream into message blocks. After any framing
// error it drops input up to the next sync byte.
type frameDecoder struct {
	synced   uint32 // atomic bool
	onResync func()
}

func newFrameDecoder() frameDecoder {
	return frameDecoder{synced: 1}
}

func (d *frameDecoder) isSynced() bool {
	return atomic.LoadUint32(&d.synced) != 0
}

// desync discards input until the next sync byte.
func (d *frameDecoder) desync() {
	atomic.StoreUint32(&d.synced, 0)
}

func (d *frameDecoder) resync() {
	atomic.StoreUint32(&d.synced, 1)
}

// decode calls fn for every complete, valid block in data and returns the
// number of bytes consumed. A partial block at the end is left in place.
// fn may call desync; the remaining input is then scanned for sync.
func (d *frameDecoder) decode(data []byte, fn func(seq uint8, payload []byte)) int {
	total := len(data)
	for len(data) > 0 {
		if !d.isSynced() {
			i := indexSync(data)
			if i < 0 {
				data = nil
				break
			}
			data = data[i+1:]
			d.resync()
			if d.onResync != nil {
				d.onResync()
			}
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		if len(data) < MessageLengthMin {
			break
		}

		msgLen := int(data[MessagePositionLen])
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
			d.desync()
			continue
		}
		seq := data[MessagePositionSeq]
		if seq&^MessageSeqMask != MessageDest {
			d.desync()
			continue
		}
		if len(data) < msgLen {
			break
		}
		if data[msgLen-MessageTrailerSync] != MessageValueSync {
			d.desync()
			continue
		}
		got := uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1])
		if got != CRC16(data[:msgLen-MessageTrailerSize]) {
			d.desync()
			continue
		}

		payload := data[MessageHeaderSize : msgLen-MessageTrailerSize]
		data = data[msgLen:]
		fn(seq, payload)
	}
	return total - len(data)
}

func indexSync(data []byte) int {
	for i, b := range data {
		if b == MessageValueSync {
			return i
		}
	}
	return -1
}

// AppendFrame appends a complete message block carrying payload to dst.
func AppendFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	msgLen := MessageHeaderSize + len(payload) + MessageTrailerSize
	if msgLen > MessageLengthMax {
		return dst, ErrFrameTooLong
	}
	start := len(dst)
	dst = append(dst, uint8(msgLen), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, uint8(crc>>8), uint8(crc), MessageValueSync), nil
}

// nextSeq advances a sequence byte within the 0x10-0x1F window.
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
