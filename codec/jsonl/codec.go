// Package jsonl is a kpeer.Protocol that frames every message as one line of
// JSON. Payload types are registered under a name that travels with the
// message.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/stn81/kpeer"
)

const DefaultMaxLineSize = 1 << 20

var (
	ErrUnknownType   = errors.New("jsonl: unknown payload type")
	ErrDuplicateType = errors.New("jsonl: payload type already registered")
	ErrLineTooLong   = errors.New("jsonl: line too long")
)

type envelope struct {
	Kind    kpeer.MessageKind `json:"kind,omitempty"`
	ID      uint64            `json:"id,omitempty"`
	Channel uint8             `json:"ch,omitempty"`
	Type    string            `json:"type"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

type readerKey struct{}

// lineReader keeps the bytes of an incomplete line across read timeouts.
type lineReader struct {
	br      *bufio.Reader
	partial []byte
}

func (lr *lineReader) readLine(max int) ([]byte, error) {
	for {
		chunk, err := lr.br.ReadSlice('\n')
		lr.partial = append(lr.partial, chunk...)
		if max > 0 && len(lr.partial) > max {
			lr.partial = nil
			return nil, ErrLineTooLong
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return nil, err
		}

		line := lr.partial
		lr.partial = nil
		return line, nil
	}
}

// Codec implements kpeer.Protocol.
type Codec struct {
	// MaxLineSize bounds an encoded message, 0 means DefaultMaxLineSize.
	MaxLineSize int

	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

var _ kpeer.Protocol = (*Codec)(nil)

func New() *Codec {
	return &Codec{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// Register binds name to the dynamic type of sample. Decoded payloads have
// exactly that type, so a sample given by value decodes to values and a
// pointer sample decodes to pointers.
func (c *Codec) Register(name string, sample kpeer.Payload) error {
	if sample == nil {
		return kpeer.ErrNilPayload
	}
	typ := reflect.TypeOf(sample)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byName[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateType, name)
	}
	if other, ok := c.byType[typ]; ok {
		return fmt.Errorf("%w: %v as %q", ErrDuplicateType, typ, other)
	}
	c.byName[name] = typ
	c.byType[typ] = name
	return nil
}

func (c *Codec) MustRegister(name string, sample kpeer.Payload) {
	if err := c.Register(name, sample); err != nil {
		panic(err)
	}
}

// Decode reads one line. Blank lines are skipped.
func (c *Codec) Decode(s *kpeer.Session, r io.Reader) (*kpeer.IncomingMessage, error) {
	lr, ok := s.GetAttr(readerKey{}).(*lineReader)
	if !ok {
		lr = &lineReader{br: bufio.NewReader(r)}
		s.SetAttr(readerKey{}, lr)
	}

	line, err := lr.readLine(c.maxLineSize())
	if err != nil {
		return nil, err
	}
	if line = bytes.TrimSpace(line); len(line) == 0 {
		return nil, nil
	}
	return c.Unmarshal(line)
}

// Unmarshal decodes a single encoded message without its line terminator.
func (c *Codec) Unmarshal(data []byte) (*kpeer.IncomingMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	c.mu.RLock()
	typ, ok := c.byName[env.Type]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	var payload kpeer.Payload
	if typ.Kind() == reflect.Ptr {
		v := reflect.New(typ.Elem())
		if err := unmarshalBody(env.Body, v.Interface()); err != nil {
			return nil, err
		}
		payload = v.Interface()
	} else {
		v := reflect.New(typ)
		if err := unmarshalBody(env.Body, v.Interface()); err != nil {
			return nil, err
		}
		payload = v.Elem().Interface()
	}

	return kpeer.NewIncomingMessage(payload, kpeer.MessageParameters{
		Kind:          env.Kind,
		CorrelationID: env.ID,
		Reliable:      true,
		Channel:       env.Channel,
	})
}

func unmarshalBody(body json.RawMessage, v interface{}) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func (c *Codec) Encode(s *kpeer.Session, payload kpeer.Payload, params kpeer.MessageParameters) ([]byte, error) {
	data, err := c.Marshal(payload, params)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Marshal encodes payload without the line terminator.
func (c *Codec) Marshal(payload kpeer.Payload, params kpeer.MessageParameters) ([]byte, error) {
	if payload == nil {
		return nil, kpeer.ErrNilPayload
	}

	c.mu.RLock()
	name, ok := c.byType[reflect.TypeOf(payload)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, payload)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(envelope{
		Kind:    params.Kind,
		ID:      params.CorrelationID,
		Channel: params.Channel,
		Type:    name,
		Body:    body,
	})
	if err != nil {
		return nil, err
	}
	if max := c.maxLineSize(); len(data)+1 > max {
		return nil, ErrLineTooLong
	}
	return data, nil
}

func (c *Codec) maxLineSize() int {
	if c.MaxLineSize > 0 {
		return c.MaxLineSize
	}
	return DefaultMaxLineSize
}
