package publish

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"

	"rampon/host/accel"
)

// Multi fans a batch out to every sink and joins their errors.
type Multi []accel.Sink

// Publish implements accel.Sink.
func (m Multi) Publish(b accel.Batch) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CSV writes one row per measurement: time, x, y, z in seconds and mm/s^2.
type CSV struct {
	w      *csv.Writer
	header bool
}

// NewCSV writes to w. Call Flush when the capture ends.
func NewCSV(w io.Writer) *CSV {
	return &CSV{w: csv.NewWriter(w)}
}

// Publish implements accel.Sink.
func (c *CSV) Publish(b accel.Batch) error {
	if !c.header {
		c.header = true
		if err := c.w.Write([]string{"#time", "accel_x", "accel_y", "accel_z"}); err != nil {
			return err
		}
	}
	for _, m := range b.Measurements {
		row := []string{
			strconv.FormatFloat(m.Time, 'f', 6, 64),
			strconv.FormatFloat(m.X, 'f', 3, 64),
			strconv.FormatFloat(m.Y, 'f', 3, 64),
			strconv.FormatFloat(m.Z, 'f', 3, 64),
		}
		if err := c.w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes buffered rows.
func (c *CSV) Flush() error {
	c.w.Flush()
	return c.w.Error()
}
