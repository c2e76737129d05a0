package protocol

import (
	"errors"
	"runtime"
	"sync/atomic"
)

const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
)

// ErrHandlerPanic reports a command handler that crashed. The transport
// resynchronizes after it.
var ErrHandlerPanic = errors.New("protocol: command handler panicked")

// CommandHandler is a function type for handling decoded commands
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the MCU side of the Klipper link. It validates incoming
// blocks, acknowledges them, dispatches their commands and frames responses.
type Transport struct {
	dec frameDecoder

	// Expected host sequence. Responses and ACKs carry the same value.
	nextSequence uint32 // atomic uint8

	output        OutputBuffer
	handler       CommandHandler
	resetCallback func()
	flushCallback func()
	errorCallback func(error)
}

// NewTransport creates a new Transport instance
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{
		dec:          newFrameDecoder(),
		nextSequence: MessageDest,
		output:       output,
		handler:      handler,
	}
	t.dec.onResync = t.encodeAckNak
	return t
}

// Receive consumes every complete block in input. Bytes of a partial block
// stay in input for the next call.
func (t *Transport) Receive(input InputBuffer) {
	consumed := t.dec.decode(input.Data(), t.handleBlock)
	if consumed > 0 {
		input.Pop(consumed)
	}
}

func (t *Transport) handleBlock(seq uint8, frame []byte) {
	expected := uint8(atomic.LoadUint32(&t.nextSequence))
	if seq == MessageDest && expected != MessageDest {
		// host restarted its sequence
		atomic.StoreUint32(&t.nextSequence, MessageDest)
		expected = MessageDest
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}

	// A mismatched block is not run; the ACK below then acts as a NAK
	// carrying the sequence we still expect.
	if seq == expected {
		atomic.StoreUint32(&t.nextSequence, uint32(nextSeq(seq)))
		if err := t.parseFrame(frame); err != nil && t.errorCallback != nil {
			t.errorCallback(err)
		}
	}
	t.encodeAckNak()
}

// parseFrame runs every command in frame. A handler error stops the frame.
//
// Handlers abort through panic: an error value (a firmware shutdown) ends
// the frame and keeps the link in sync, anything else desynchronizes it.
func (t *Transport) parseFrame(frame []byte) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(error); ok {
			if _, crash := e.(runtime.Error); !crash {
				err = e
				return
			}
		}
		t.dec.desync()
		err = ErrHandlerPanic
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.dec.desync()
			return err
		}
		if t.handler != nil {
			if err := t.handler(uint16(cmdID), &frame); err != nil {
				return err
			}
		}
	}
	return nil
}

// encodeAckNak sends an empty block with the expected sequence. It is
// flushed at once: the host waits for the ACK before reading responses.
func (t *Transport) encodeAckNak() {
	ack, _ := AppendFrame(make([]byte, 0, MessageLengthMin), uint8(atomic.LoadUint32(&t.nextSequence)), nil)
	t.output.Output(ack)
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame writes one block built by frameData into the output buffer.
// Any number of responses may share the current sequence.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()
	t.output.Output([]byte{0, uint8(atomic.LoadUint32(&t.nextSequence))})

	frameData(t.output)

	t.output.Update(cursor, uint8(len(t.output.DataSince(cursor))+MessageTrailerSize))
	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}

// SendCommand frames a response: its ID followed by the encoded arguments.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns the transport to its power-on state, e.g. after a USB
// reconnect.
func (t *Transport) Reset() {
	t.dec.resync()
	atomic.StoreUint32(&t.nextSequence, MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// Synchronized reports whether the transport is locked onto block
// boundaries.
func (t *Transport) Synchronized() bool { return t.dec.isSynced() }

// SetResetCallback sets a callback to be called when host reset is detected
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets a callback that pushes pending output to the host.
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// SetErrorCallback receives errors from command handlers and frame decoding.
func (t *Transport) SetErrorCallback(callback func(error)) {
	t.errorCallback = callback
}
