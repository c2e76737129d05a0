package protocol

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var ErrTransportClosed = errors.New("protocol: transport closed")

// idleBackoff paces readLoop when the port reports EOF on an idle line.
const idleBackoff = 5 * time.Millisecond

// ResponseHandler is a function type for handling received responses from MCU
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host side of the link: it frames commands, waits
// for each ACK and queues the MCU's responses.
type HostTransport struct {
	port io.ReadWriteCloser
	dec  frameDecoder

	currentSeq uint32 // atomic, 0x10-0x1F

	inputBuffer *FifoBuffer

	ackChan      chan *Message
	responseChan chan *Message

	handlerMu       sync.Mutex
	responseHandler ResponseHandler

	writeMutex sync.Mutex
	readMutex  sync.Mutex

	readErr  atomic.Value // error
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// Message is one block received from the MCU.
type Message struct {
	Sequence uint8
	Payload  []byte // command ID and arguments, header and trailer removed
}

// ID decodes the response ID at the start of the payload.
func (m *Message) ID() (uint16, error) {
	p := m.Payload
	id, err := DecodeVLQUint(&p)
	return uint16(id), err
}

// Args returns the payload after the response ID.
func (m *Message) Args() []byte {
	p := m.Payload
	if _, err := DecodeVLQUint(&p); err != nil {
		return nil
	}
	return p
}

// NewHostTransport starts reading from port in the background.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		dec:          newFrameDecoder(),
		currentSeq:   MessageDest,
		inputBuffer:  NewFifoBuffer(1024),
		ackChan:      make(chan *Message, 1),
		responseChan: make(chan *Message, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand sends a command to the MCU and waits for ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, 2*time.Second)
}

// SendCommandWithTimeout sends a command with a custom timeout
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	msg, err := buildCommandMessage(seq, cmdID, args)
	if err != nil {
		return fmt.Errorf("build command %d: %w", cmdID, err)
	}
	if _, err := t.port.Write(msg); err != nil {
		return fmt.Errorf("write command %d: %w", cmdID, err)
	}
	if err := t.waitForAck(seq, timeout); err != nil {
		return fmt.Errorf("command %d: %w", cmdID, err)
	}
	return nil
}

func buildCommandMessage(seq uint8, cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	return AppendFrame(nil, seq, scratch.Result())
}

// waitForAck waits for the ACK of the block sent with seq. A NAK (an
// ACK still naming seq) is reported as an error.
func (t *HostTransport) waitForAck(seq uint8, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-t.ackChan:
		if want := nextSeq(seq); ack.Sequence != want {
			return fmt.Errorf("sequence mismatch: expected 0x%02x, got 0x%02x", want, ack.Sequence)
		}
		atomic.StoreUint32(&t.currentSeq, uint32(nextSeq(seq)))
		return nil
	case <-timer.C:
		return fmt.Errorf("ACK timeout after %v", timeout)
	case <-t.stopChan:
		return t.stopErr()
	}
}

// ReceiveResponse returns the next queued response.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("response timeout after %v", timeout)
	case <-t.stopChan:
		return nil, t.stopErr()
	}
}

// WaitResponse skips queued responses until one with cmdID arrives.
func (t *HostTransport) WaitResponse(cmdID uint16, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("no response %d within %v", cmdID, timeout)
		}
		msg, err := t.ReceiveResponse(remaining)
		if err != nil {
			return nil, err
		}
		if id, err := msg.ID(); err == nil && id == cmdID {
			return msg, nil
		}
	}
}

// DrainResponses removes every queued response and returns them.
func (t *HostTransport) DrainResponses() []*Message {
	var msgs []*Message
	for {
		select {
		case msg := <-t.responseChan:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

// SetResponseHandler installs a callback run for every response before it
// is queued.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.responseHandler = handler
	t.handlerMu.Unlock()
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buf := make([]byte, 256)
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if n > 0 {
			t.feed(buf[:n])
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			// A serial read timeout with nothing received.
			if n == 0 {
				time.Sleep(idleBackoff)
			}
		case errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed):
			t.readErr.Store(err)
			t.stop()
			return
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// feed queues received bytes and dispatches every complete block.
func (t *HostTransport) feed(data []byte) {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	for len(data) > 0 {
		n := t.inputBuffer.Write(data)
		data = data[n:]
		consumed := t.dec.decode(t.inputBuffer.Data(), t.dispatchBlock)
		t.inputBuffer.Pop(consumed)
		if n == 0 && consumed == 0 {
			// a full buffer without a single valid block is garbage
			t.inputBuffer.Reset()
			t.dec.desync()
		}
	}
}

func (t *HostTransport) dispatchBlock(seq uint8, payload []byte) {
	msg := &Message{Sequence: seq, Payload: append([]byte(nil), payload...)}

	if len(msg.Payload) == 0 {
		select {
		case t.ackChan <- msg:
		default:
		}
		return
	}

	t.handlerMu.Lock()
	handler := t.responseHandler
	t.handlerMu.Unlock()
	if handler != nil {
		args := msg.Payload
		if id, err := DecodeVLQUint(&args); err == nil {
			_ = handler(uint16(id), &args)
		}
	}

	select {
	case t.responseChan <- msg:
	default:
		// queue full: drop the oldest
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- msg
	}
}

func (t *HostTransport) stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}

func (t *HostTransport) stopErr() error {
	if err, ok := t.readErr.Load().(error); ok {
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return ErrTransportClosed
}

// Close stops the reader and closes the port.
func (t *HostTransport) Close() error {
	t.stop()
	err := t.port.Close()
	<-t.doneChan
	return err
}

// Reset drops queued input and returns to the first sequence.
func (t *HostTransport) Reset() {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	t.dec.resync()
	atomic.StoreUint32(&t.currentSeq, MessageDest)
	for len(t.ackChan) > 0 {
		<-t.ackChan
	}
	for len(t.responseChan) > 0 {
		<-t.responseChan
	}
	t.inputBuffer.Reset()
}

// GetCurrentSequence returns the sequence of the next command.
func (t *HostTransport) GetCurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}
