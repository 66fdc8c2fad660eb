package stream

import (
	"fmt"
	"io"
	"net/http"

	"github.com/xiaot623/lazarus/internal/domain"
)

// ContentType is the media type of an encoded event stream.
const ContentType = "application/x-ndjson"

type flusher interface {
	Flush() error
}

// Encoder writes one record per event and flushes after each write.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an encoder writing to w. If w implements http.Flusher
// or Flush() error it is flushed after every record.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes the record of e.
func (e *Encoder) Encode(ev domain.Event) error {
	data, err := Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStreamTransport, err)
	}
	switch f := e.w.(type) {
	case http.Flusher:
		f.Flush()
	case flusher:
		if err := f.Flush(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStreamTransport, err)
		}
	}
	return nil
}
