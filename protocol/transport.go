package protocol

// CommandHandler handles one decoded command. The handler decodes its own
// arguments from data and must leave data positioned at the next command.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the MCU end of the link. It validates incoming frames, hands
// the commands inside to the handler, acknowledges every frame and encodes
// outgoing responses into the output buffer.
//
// Transport is not safe for concurrent use; the firmware drives it from the
// control loop only.
type Transport struct {
	synchronized bool
	// nextSeq is the sequence expected from the host. Responses and ACKs
	// carry the same value.
	nextSeq uint8

	output  OutputBuffer
	handler CommandHandler

	resetCallback func()
	flushCallback func()

	lastErr error
	dropped uint32
}

// NewTransport creates a synchronized transport expecting sequence 0x10.
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		synchronized: true,
		nextSeq:      MessageDest,
		output:       output,
		handler:      handler,
	}
}

// Receive consumes complete frames from input. A partial frame is left in
// place for the next call.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.synchronized {
			idx := findSync(data)
			if idx < 0 {
				data = nil
				break
			}
			data = data[idx:]
			t.synchronized = true
			t.encodeAckNak()
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

		seq := data[MessagePositionSeq]
		frame := data[MessageHeaderSize : msgLen-MessageTrailerSize]
		data = data[msgLen:]

		if seq == MessageDest && t.nextSeq != MessageDest {
			// Host restarted its sequence numbering.
			t.nextSeq = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}
		if seq == t.nextSeq {
			t.nextSeq = nextSequence(seq)
			t.lastErr = t.parseFrame(frame)
		}
		// A mismatched sequence still gets an ACK; it acts as a NAK
		// carrying the expected value.
		t.encodeAckNak()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// parseFrame dispatches every command in frame. A handler panic desyncs the
// link instead of taking the firmware down.
func (t *Transport) parseFrame(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.synchronized = false
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.synchronized = false
			return err
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			return err
		}
	}
	return nil
}

// encodeAckNak writes an empty frame carrying the next expected sequence and
// flushes it straight away; serialqueue waits for the ACK before accepting
// responses.
func (t *Transport) encodeAckNak() {
	msg := appendTrailer([]byte{MessageLengthMin, t.nextSeq})
	t.output.Output(msg)
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame encodes one response frame. Frames that would not fit into a
// ScratchOutput are dropped and counted; the caller never blocks on
// delivery.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) bool {
	if s, ok := t.output.(*ScratchOutput); ok && s.Free() < MessageLengthMax {
		t.dropped++
		return false
	}

	cursor := t.output.CurPosition()
	t.output.Output([]byte{0, t.nextSeq})
	frameData(t.output)

	size := len(t.output.DataSince(cursor)) + MessageTrailerSize
	t.output.Update(cursor, uint8(size))

	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
	return true
}

// SendCommand encodes a response with the given command id and arguments.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns to the power-on state after a USB reconnect.
func (t *Transport) Reset() {
	t.synchronized = true
	t.nextSeq = MessageDest
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback is called when the host restarts its sequence numbers.
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback is called after every ACK so it can be written out
// immediately.
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// LastError returns the error of the most recently dispatched frame.
func (t *Transport) LastError() error { return t.lastErr }

// Dropped returns the number of response frames discarded for lack of
// output space.
func (t *Transport) Dropped() uint32 { return t.dropped }

// Synchronized reports whether the transport is in frame sync.
func (t *Transport) Synchronized() bool { return t.synchronized }
