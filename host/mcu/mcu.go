package mcu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"rampon/host/serial"
	"rampon/protocol"
)

// Bootstrap message ids, fixed before any dictionary is known.
const (
	identifyResponseID = 0
	identifyID         = 1

	identifyChunk = 40
	// identifyMaxChunks bounds retrieval against a misbehaving MCU.
	identifyMaxChunks = 1000
)

// ErrNotConnected is returned after Close.
var ErrNotConnected = errors.New("not connected to MCU")

// ErrNoDictionary is returned by named operations before RetrieveDictionary.
var ErrNoDictionary = errors.New("dictionary not loaded")

// ResponseFunc handles the arguments of one response, command id already
// removed.
type ResponseFunc func(data *[]byte) error

// MCU is a connection to the accelerometer MCU.
type MCU struct {
	transport *protocol.HostTransport
	port      io.ReadWriteCloser

	dictionary     *Dictionary
	dictionaryData []byte

	mu        sync.Mutex
	handlers  map[string]ResponseFunc
	waiters   map[string]chan []byte
	connected bool
}

// New wraps an already open port.
func New(port io.ReadWriteCloser) *MCU {
	m := &MCU{
		port:      port,
		handlers:  make(map[string]ResponseFunc),
		waiters:   make(map[string]chan []byte),
		connected: true,
	}
	m.transport = protocol.NewHostTransport(port)
	m.transport.SetResponseHandler(m.handleResponse)
	return m
}

// Open opens the serial device described by cfg.
func Open(cfg *serial.Config) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	_ = port.Flush()
	log.WithField("device", cfg.Device).Debugln("serial port open")
	return New(port), nil
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return m.transport.Close()
}

// IsConnected returns whether the MCU is connected
func (m *MCU) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// RetrieveDictionary pulls the dictionary through identify and parses it.
func (m *MCU) RetrieveDictionary(ctx context.Context) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}

	var buf bytes.Buffer
	offset := uint32(0)
	for i := 0; i < identifyMaxChunks; i++ {
		chunk, err := m.sendIdentify(ctx, offset, identifyChunk)
		if err != nil {
			return fmt.Errorf("dictionary chunk at offset %d: %w", offset, err)
		}
		buf.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < identifyChunk {
			break
		}
	}
	log.WithField("bytes", buf.Len()).Debugln("dictionary retrieved")

	dict, err := ParseDictionary(buf.Bytes())
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.dictionaryData = buf.Bytes()
	m.dictionary = dict
	m.mu.Unlock()

	log.WithFields(log.Fields{
		"version":   dict.Version,
		"commands":  len(dict.Commands),
		"responses": len(dict.Responses),
	}).Infoln("dictionary loaded")
	return nil
}

// sendIdentify requests one chunk and waits for the identify_response that
// echoes offset. Other queued responses are skipped.
func (m *MCU) sendIdentify(ctx context.Context, offset uint32, count uint8) ([]byte, error) {
	err := m.transport.SendCommandContext(ctx, identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, err
	}

	for {
		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		resp, err := m.transport.ReceiveResponseContext(waitCtx)
		cancel()
		if err != nil {
			return nil, err
		}

		payload := resp.Payload
		cmdID, err := protocol.DecodeVLQUint(&payload)
		if err != nil || cmdID != identifyResponseID {
			continue
		}
		respOffset, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, fmt.Errorf("decode identify offset: %w", err)
		}
		if respOffset != offset {
			continue
		}
		data, err := protocol.DecodeVLQBytes(&payload)
		if err != nil {
			return nil, fmt.Errorf("decode identify data: %w", err)
		}
		return data, nil
	}
}

// Dictionary returns the parsed dictionary, or nil before retrieval.
func (m *MCU) Dictionary() *Dictionary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dictionary
}

// DictionaryRaw returns the bytes served by identify.
func (m *MCU) DictionaryRaw() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dictionaryData
}

func (m *MCU) loaded() (*Dictionary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	if m.dictionary == nil {
		return nil, ErrNoDictionary
	}
	return m.dictionary, nil
}

// SendCommand sends the named command and waits for its ACK.
func (m *MCU) SendCommand(ctx context.Context, name string, args func(output protocol.OutputBuffer)) error {
	dict, err := m.loaded()
	if err != nil {
		return err
	}
	id, _, err := dict.Command(name)
	if err != nil {
		return err
	}
	log.WithField("command", name).Traceln("send")
	return m.transport.SendCommandContext(ctx, id, args)
}

// SendUints sends a command whose arguments are all integers.
func (m *MCU) SendUints(ctx context.Context, name string, args ...uint32) error {
	return m.SendCommand(ctx, name, func(output protocol.OutputBuffer) {
		for _, v := range args {
			protocol.EncodeVLQUint(output, v)
		}
	})
}

// Handle installs fn for every future response called name. A nil fn
// removes the handler.
func (m *MCU) Handle(name string, fn ResponseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn == nil {
		delete(m.handlers, name)
		return
	}
	m.handlers[name] = fn
}

// Query sends a command and returns the arguments of the next response
// called response.
func (m *MCU) Query(ctx context.Context, name string, args func(output protocol.OutputBuffer), response string) ([]byte, error) {
	dict, err := m.loaded()
	if err != nil {
		return nil, err
	}
	if _, _, err := dict.Response(response); err != nil {
		return nil, err
	}

	ch := make(chan []byte, 1)
	m.mu.Lock()
	m.waiters[response] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.waiters[response] == ch {
			delete(m.waiters, response)
		}
		m.mu.Unlock()
	}()

	if err := m.SendCommand(ctx, name, args); err != nil {
		return nil, err
	}
	select {
	case data := <-ch:
		return data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", response, ctx.Err())
	}
}

// handleResponse runs on the transport's reader goroutine.
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	m.mu.Lock()
	dict := m.dictionary
	if dict == nil {
		m.mu.Unlock()
		return nil
	}
	name, ok := dict.ResponseName(cmdID)
	if !ok {
		m.mu.Unlock()
		log.WithField("id", cmdID).Debugln("response not in dictionary")
		return nil
	}
	waiter := m.waiters[name]
	delete(m.waiters, name)
	handler := m.handlers[name]
	m.mu.Unlock()

	if waiter != nil {
		waiter <- append([]byte(nil), *data...)
	}
	if handler == nil {
		return nil
	}
	if err := handler(data); err != nil {
		log.WithError(err).WithField("response", name).Warnln("response handler failed")
		return err
	}
	return nil
}
