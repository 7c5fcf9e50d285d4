package accel

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"rampon/core"
)

// Measurement is one converted sample. Index counts samples from the start
// of the capture, including lost ones, so Time stays aligned after gaps.
type Measurement struct {
	Index uint64  `json:"index"`
	Time  float64 `json:"time"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// Batch is the output of one data reply.
type Batch struct {
	Sequence     uint64        `json:"sequence"`
	Measurements []Measurement `json:"measurements"`
	Invalid      int           `json:"invalid"`
}

// Sink receives every decoded batch.
type Sink interface {
	Publish(b Batch) error
}

// Stats summarises a capture.
type Stats struct {
	Replies       int
	Samples       int
	Invalid       int
	MissedReplies uint64
	Overflows     uint16
	Last          *Status
}

func (s Stats) String() string {
	return fmt.Sprintf("replies=%d samples=%d invalid=%d missed_replies=%d overflows=%d",
		s.Replies, s.Samples, s.Invalid, s.MissedReplies, s.Overflows)
}

// Collector reassembles the sample stream of one sensor. It is safe to feed
// from the transport's reader goroutine while other goroutines read Stats.
type Collector struct {
	mu       sync.Mutex
	oid      uint8
	encoding string
	rateHz   float64
	axes     AxesMap
	sink     Sink

	started bool
	lastSeq uint16
	extSeq  uint64

	stats        Stats
	measurements []Measurement
	keep         bool
}

// NewCollector collects replies for oid. rateHz converts sample indexes to
// seconds. A nil sink drops batches after conversion.
func NewCollector(oid uint8, encoding string, rateHz int, axes AxesMap, sink Sink) *Collector {
	return &Collector{
		oid:      oid,
		encoding: encoding,
		rateHz:   float64(rateHz),
		axes:     axes,
		sink:     sink,
	}
}

// KeepMeasurements retains every measurement for Measurements.
func (c *Collector) KeepMeasurements(keep bool) {
	c.mu.Lock()
	c.keep = keep
	c.mu.Unlock()
}

// Reset forgets the stream so the next reply starts a new sequence.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	c.extSeq = 0
	c.stats = Stats{}
	c.measurements = nil
}

// samplesPerReply is the sample count of a full data reply.
const samplesPerReply = core.SampleBufferSize / core.PackedSampleSize

// HandleData consumes the arguments of a data reply.
func (c *Collector) HandleData(data *[]byte) error {
	reply, err := DecodeData(data)
	if err != nil {
		return err
	}
	if reply.OID != c.oid {
		return nil
	}

	c.mu.Lock()
	if !c.started {
		c.started = true
		c.extSeq = uint64(reply.Sequence)
	} else {
		step := reply.Sequence - c.lastSeq
		if step == 0 {
			c.mu.Unlock()
			log.WithField("sequence", reply.Sequence).Debugln("duplicate data reply")
			return nil
		}
		if step != 1 {
			missed := uint64(step - 1)
			c.stats.MissedReplies += missed
			log.WithFields(log.Fields{
				"oid":      c.oid,
				"sequence": reply.Sequence,
				"missed":   missed,
			}).Warnln("data replies lost")
		}
		c.extSeq += uint64(step)
	}
	c.lastSeq = reply.Sequence

	batch := Batch{Sequence: c.extSeq}
	base := c.extSeq * samplesPerReply
	for i, p := range reply.Samples {
		if p.IsSentinel() {
			batch.Invalid++
			continue
		}
		idx := base + uint64(i)
		x, y, z := c.axes.Apply(p.Axes())
		m := Measurement{Index: idx, X: x, Y: y, Z: z}
		if c.rateHz > 0 {
			m.Time = float64(idx) / c.rateHz
		}
		batch.Measurements = append(batch.Measurements, m)
	}

	c.stats.Replies++
	c.stats.Samples += len(batch.Measurements)
	c.stats.Invalid += batch.Invalid
	if c.keep {
		c.measurements = append(c.measurements, batch.Measurements...)
	}
	sink := c.sink
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"oid":      c.oid,
		"sequence": reply.Sequence,
		"count":    len(reply.Samples),
	}).Traceln("data reply")

	if sink != nil {
		if err := sink.Publish(batch); err != nil {
			return fmt.Errorf("publish batch %d: %w", batch.Sequence, err)
		}
	}
	return nil
}

// HandleStatus consumes the arguments of a status reply.
func (c *Collector) HandleStatus(data *[]byte) error {
	s, err := DecodeStatus(c.encoding, data)
	if err != nil {
		return err
	}
	if s.OID != c.oid {
		return nil
	}

	c.mu.Lock()
	c.stats.Last = &s
	c.stats.Overflows = s.Overflows
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"oid":           s.OID,
		"next_sequence": s.NextSequence,
		"pending":       s.Pending(),
		"overflows":     s.Overflows,
	}).Debugln("status reply")
	return nil
}

// Stats returns a snapshot of the capture counters.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	if st.Last != nil {
		last := *st.Last
		st.Last = &last
	}
	return st
}

// Measurements returns the retained measurements.
func (c *Collector) Measurements() []Measurement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Measurement(nil), c.measurements...)
}
