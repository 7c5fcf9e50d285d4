package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrTransportClosed is returned by waits interrupted by Close.
var ErrTransportClosed = errors.New("transport closed")

// ResponseHandler receives every response frame as soon as it is parsed.
type ResponseHandler func(cmdID uint16, data *[]byte) error

// Message is one parsed frame received from the MCU.
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // frame contents without header and trailer
}

// HostTransport is the host end of the link: it numbers and sends command
// frames, waits for their ACK and routes response frames.
type HostTransport struct {
	port io.ReadWriteCloser

	writeMu sync.Mutex
	seq     uint8

	readMu       sync.Mutex
	synchronized bool
	input        *FifoBuffer

	ackCh      chan *Message
	responseCh chan *Message

	handlerMu sync.RWMutex
	handler   ResponseHandler

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewHostTransport starts the background reader on port.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		seq:          MessageDest,
		synchronized: true,
		input:        NewFifoBuffer(1024),
		ackCh:        make(chan *Message, 1),
		responseCh:   make(chan *Message, 64),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// EncodeCommand builds a complete frame for cmdID with sequence seq.
func EncodeCommand(seq uint8, cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	payload := scratch.Result()

	msgLen := MessageHeaderSize + len(payload) + MessageTrailerSize
	if msgLen > MessageLengthMax {
		return nil, fmt.Errorf("message too long: %d bytes (max %d)", msgLen, MessageLengthMax)
	}
	msg := make([]byte, 0, msgLen)
	msg = append(msg, uint8(msgLen), seq)
	msg = append(msg, payload...)
	return appendTrailer(msg), nil
}

// SendCommand sends one command and waits up to two seconds for its ACK.
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return t.SendCommandContext(ctx, cmdID, args)
}

// SendCommandContext sends one command and waits for its ACK until ctx is
// done.
func (t *HostTransport) SendCommandContext(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	msg, err := EncodeCommand(t.seq, cmdID, args)
	if err != nil {
		return err
	}
	n, err := t.port.Write(msg)
	if err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}

	want := nextSequence(t.seq)
	for {
		select {
		case ack := <-t.ackCh:
			if ack.Sequence != want {
				// Stale ACK for an earlier frame.
				continue
			}
			t.seq = want
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for ACK: %w", ctx.Err())
		case <-t.stopCh:
			return ErrTransportClosed
		}
	}
}

// ReceiveResponse returns the next queued response frame.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.ReceiveResponseContext(ctx)
}

// ReceiveResponseContext returns the next queued response frame or ctx's
// error.
func (t *HostTransport) ReceiveResponseContext(ctx context.Context) (*Message, error) {
	select {
	case resp := <-t.responseCh:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for response: %w", ctx.Err())
	case <-t.stopCh:
		return nil, ErrTransportClosed
	}
}

// SetResponseHandler installs a callback run from the reader goroutine for
// each response.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.handler = handler
	t.handlerMu.Unlock()
}

func (t *HostTransport) readLoop() {
	defer close(t.doneCh)

	buf := make([]byte, 256)
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if n > 0 {
			t.Feed(buf[:n])
		}
	}
}

// Feed parses raw bytes as if read from the port. It is used by the reader
// goroutine and by tests.
func (t *HostTransport) Feed(raw []byte) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	t.input.Write(raw)
	data := t.input.Data()

	for len(data) > 0 {
		if !t.synchronized {
			idx := findSync(data)
			if idx < 0 {
				data = nil
				break
			}
			data = data[idx:]
			t.synchronized = true
			continue
		}
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		msgLen, ok, wait := validFrame(data)
		if wait {
			break
		}
		if !ok {
			t.synchronized = false
			continue
		}

		msg := &Message{
			Length:   data[MessagePositionLen],
			Sequence: data[MessagePositionSeq],
			Payload:  append([]byte(nil), data[MessageHeaderSize:msgLen-MessageTrailerSize]...),
		}
		data = data[msgLen:]
		t.dispatch(msg)
	}

	t.input.Pop(t.input.Available() - len(data))
}

func (t *HostTransport) dispatch(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.ackCh <- msg:
		default:
			// Keep only the newest ACK.
			select {
			case <-t.ackCh:
			default:
			}
			t.ackCh <- msg
		}
		return
	}

	t.handlerMu.RLock()
	handler := t.handler
	t.handlerMu.RUnlock()
	if handler != nil {
		payload := append([]byte(nil), msg.Payload...)
		if cmdID, err := DecodeVLQUint(&payload); err == nil {
			_ = handler(uint16(cmdID), &payload)
		}
	}

	select {
	case t.responseCh <- msg:
	default:
		// Drop the oldest queued response.
		select {
		case <-t.responseCh:
		default:
		}
		t.responseCh <- msg
	}
}

// Close stops the reader and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopCh)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneCh
	})
	return err
}

// Sequence returns the sequence number the next command will carry.
func (t *HostTransport) Sequence() uint8 {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.seq
}
