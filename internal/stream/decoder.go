package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/lazarus/internal/domain"
)

// Decoder splits an incrementally received byte stream into events. A
// partial trailing record is held until more bytes arrive. Malformed
// records are skipped.
type Decoder struct {
	buf       []byte
	malformed int
	logger    zerolog.Logger

	// OnMalformed is called for each skipped record.
	OnMalformed func(line []byte, err error)
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{logger: log.With().Str("component", "stream").Logger()}
}

// Feed appends data and returns the events of every record completed by it.
func (d *Decoder) Feed(data []byte) []domain.Event {
	d.buf = append(d.buf, data...)

	var events []domain.Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		if ev, ok := d.parse(line); ok {
			events = append(events, ev)
		}
		d.buf = d.buf[i+1:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events
}

// Flush parses a trailing record that was never newline-terminated.
func (d *Decoder) Flush() []domain.Event {
	line := d.buf
	d.buf = nil
	if ev, ok := d.parse(line); ok {
		return []domain.Event{ev}
	}
	return nil
}

// Pending reports the number of buffered bytes of an incomplete record.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Malformed returns the number of records skipped so far.
func (d *Decoder) Malformed() int {
	return d.malformed
}

func (d *Decoder) parse(line []byte) (domain.Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}
	ev, err := Unmarshal(line)
	if err != nil {
		d.malformed++
		d.logger.Warn().Err(err).Int("bytes", len(line)).Msg("skipping malformed record")
		if d.OnMalformed != nil {
			d.OnMalformed(line, err)
		}
		return nil, false
	}
	return ev, true
}

// Decode reads r until EOF and calls fn for each event in order. An error
// from fn stops decoding and is returned.
func Decode(r io.Reader, fn func(domain.Event) error) error {
	return NewDecoder().DecodeFrom(r, fn)
}

// DecodeFrom is Decode using d.
func (d *Decoder) DecodeFrom(r io.Reader, fn func(domain.Event) error) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range d.Feed(buf[:n]) {
				if err := fn(ev); err != nil {
					return err
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStreamTransport, err)
		}
	}
	for _, ev := range d.Flush() {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}
