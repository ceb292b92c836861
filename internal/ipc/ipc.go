// Package ipc is the wire protocol between the interface process and the
// scheduler loop process: one JSON object per line.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/me/rrsched/pkg/model"
)

// ErrMalformed marks a line that could not be decoded. The stream is still
// usable after it.
var ErrMalformed = errors.New("malformed message")

// Kind identifies a message.
type Kind string

const (
	// Interface → loop.
	KindEnqueue Kind = "enqueue"
	KindExit    Kind = "exit"

	// Loop → interface.
	KindAdmit   Kind = "admit"
	KindPreempt Kind = "preempt"
	KindDrop    Kind = "drop"
	// KindStats is the loop's last message before it exits.
	KindStats Kind = "stats"
)

// Message is a single line on either pipe.
type Message struct {
	Kind  Kind             `json:"kind"`
	PID   int              `json:"pid,omitempty"`
	At    time.Time        `json:"at,omitzero"`
	Stats *model.LoopStats `json:"stats,omitempty"`
}

// Validate checks that the message names a known kind and a real PID, or
// carries counters for KindStats.
func (m Message) Validate() error {
	if m.Kind == KindStats {
		if m.Stats == nil {
			return errors.New("stats: missing counters")
		}
		return nil
	}
	switch m.Kind {
	case KindEnqueue, KindExit, KindAdmit, KindPreempt, KindDrop:
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	if m.PID <= 0 {
		return fmt.Errorf("%s: invalid pid %d", m.Kind, m.PID)
	}
	return nil
}

// Encoder writes messages. It is safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Send writes one message followed by a newline.
func (e *Encoder) Send(m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(m); err != nil {
		return fmt.Errorf("send %s: %w", m.Kind, err)
	}
	return nil
}

// Decoder reads messages line by line.
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{sc: bufio.NewScanner(r)}
}

// Next returns the next valid message. A malformed line yields an error
// wrapping ErrMalformed and may be skipped; io.EOF means the peer closed
// the pipe. Any other error is final.
func (d *Decoder) Next() (Message, error) {
	for d.sc.Scan() {
		line := d.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return Message{}, fmt.Errorf("%w: %q: %v", ErrMalformed, line, err)
		}
		if err := m.Validate(); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return m, nil
	}
	if err := d.sc.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}
