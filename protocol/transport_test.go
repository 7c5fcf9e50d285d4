package protocol

import (
	"errors"
	"testing"
)

type recordedCommand struct {
	id   uint16
	args []uint32
}

func newTestTransport(t *testing.T, argc int) (*Transport, *ScratchOutput, *[]recordedCommand) {
	t.Helper()
	var got []recordedCommand
	output := NewScratchOutput()
	tr := NewTransport(output, func(cmdID uint16, data *[]byte) error {
		rec := recordedCommand{id: cmdID}
		for i := 0; i < argc; i++ {
			v, err := DecodeVLQUint(data)
			if err != nil {
				return err
			}
			rec.args = append(rec.args, v)
		}
		got = append(got, rec)
		return nil
	})
	return tr, output, &got
}

func frame(t *testing.T, seq uint8, cmdID uint16, args ...uint32) []byte {
	t.Helper()
	msg, err := EncodeCommand(seq, cmdID, func(output OutputBuffer) {
		for _, a := range args {
			EncodeVLQUint(output, a)
		}
	})
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	return msg
}

func TestTransportDispatchesAndAcks(t *testing.T) {
	tr, output, got := newTestTransport(t, 2)

	in := NewSliceInputBuffer(frame(t, MessageDest, 7, 100, 50))
	tr.Receive(in)

	if in.Available() != 0 {
		t.Errorf("Receive left %d bytes", in.Available())
	}
	if len(*got) != 1 || (*got)[0].id != 7 || (*got)[0].args[0] != 100 || (*got)[0].args[1] != 50 {
		t.Fatalf("Unexpected dispatch: %+v", *got)
	}

	ack := output.Result()
	if len(ack) != MessageLengthMin || ack[MessagePositionSeq] != MessageDest+1 {
		t.Errorf("Expected ACK with seq 0x11, got %v", ack)
	}
}

func TestTransportWaitsForPartialFrame(t *testing.T) {
	tr, _, got := newTestTransport(t, 1)
	msg := frame(t, MessageDest, 3, 9)

	in := NewSliceInputBuffer(msg[:4])
	tr.Receive(in)
	if len(*got) != 0 || in.Available() != 4 {
		t.Fatalf("Partial frame consumed: dispatched=%d left=%d", len(*got), in.Available())
	}

	tr.Receive(NewSliceInputBuffer(msg))
	if len(*got) != 1 {
		t.Fatalf("Expected 1 dispatch after completion, got %d", len(*got))
	}
}

func TestTransportResyncsAfterGarbage(t *testing.T) {
	tr, _, got := newTestTransport(t, 1)

	data := append([]byte{0x03, 0x99, 0x42, MessageValueSync}, frame(t, MessageDest, 2, 1)...)
	tr.Receive(NewSliceInputBuffer(data))

	if !tr.Synchronized() {
		t.Error("Transport should be synchronized again")
	}
	if len(*got) != 1 {
		t.Errorf("Expected frame after garbage to dispatch, got %d", len(*got))
	}
}

func TestTransportIgnoresWrongSequence(t *testing.T) {
	tr, output, got := newTestTransport(t, 0)

	tr.Receive(NewSliceInputBuffer(frame(t, MessageDest+5, 1)))
	if len(*got) != 0 {
		t.Fatalf("Out-of-sequence frame dispatched")
	}
	// NAK carries the still-expected sequence.
	if ack := output.Result(); ack[MessagePositionSeq] != MessageDest {
		t.Errorf("NAK seq = 0x%02x, want 0x10", ack[MessagePositionSeq])
	}
}

func TestTransportHostResetCallsCallback(t *testing.T) {
	tr, _, _ := newTestTransport(t, 0)
	resets := 0
	tr.SetResetCallback(func() { resets++ })

	tr.Receive(NewSliceInputBuffer(frame(t, MessageDest, 1)))
	tr.Receive(NewSliceInputBuffer(frame(t, MessageDest, 1)))
	if resets != 1 {
		t.Errorf("Expected 1 reset, got %d", resets)
	}
}

func TestTransportHandlerError(t *testing.T) {
	boom := errors.New("boom")
	tr := NewTransport(NewScratchOutput(), func(uint16, *[]byte) error { return boom })
	tr.Receive(NewSliceInputBuffer(frame(t, MessageDest, 1)))
	if !errors.Is(tr.LastError(), boom) {
		t.Errorf("LastError = %v, want boom", tr.LastError())
	}
}

func TestTransportSendCommandRoundTrip(t *testing.T) {
	output := NewScratchOutput()
	tr := NewTransport(output, nil)
	tr.SendCommand(12, func(out OutputBuffer) {
		EncodeVLQUint(out, 3)
		EncodeVLQBytes(out, []byte{0xAA, 0xBB})
	})

	host := &HostTransport{synchronized: true, input: NewFifoBuffer(256),
		ackCh: make(chan *Message, 1), responseCh: make(chan *Message, 4)}
	host.Feed(output.Result())

	select {
	case msg := <-host.responseCh:
		payload := msg.Payload
		id, _ := DecodeVLQUint(&payload)
		oid, _ := DecodeVLQUint(&payload)
		data, err := DecodeVLQBytes(&payload)
		if id != 12 || oid != 3 || err != nil || string(data) != "\xAA\xBB" {
			t.Errorf("Decoded id=%d oid=%d data=%v err=%v", id, oid, data, err)
		}
	default:
		t.Fatal("Host transport did not queue the response")
	}
}

func TestTransportDropsWhenOutputFull(t *testing.T) {
	output := NewScratchOutput()
	output.Output(make([]byte, OutputMax-10))
	tr := NewTransport(output, nil)

	if tr.EncodeFrame(func(OutputBuffer) {}) {
		t.Error("EncodeFrame should refuse when output is nearly full")
	}
	if tr.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", tr.Dropped())
	}
}
