package jsonl

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stn81/kpeer"
)

type ping struct {
	Seq int `json:"seq"`
}

type note struct {
	Text string `json:"text"`
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

// chunkReader returns one chunk per Read, or the error in place of a nil chunk.
type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	chunk := r.chunks[0]
	r.chunks = r.chunks[1:]
	if chunk == "" {
		return 0, timeoutError{}
	}
	return copy(p, chunk), nil
}

func newCodec(t *testing.T) *Codec {
	t.Helper()
	c := New()
	c.MustRegister("ping", ping{})
	c.MustRegister("note", &note{})
	return c
}

func newSession(t *testing.T) *kpeer.Session {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() { c2.Close() })

	conf := kpeer.IoConfig{SendQueueSize: 1, RecvQueueSize: 1}
	s := kpeer.NewClientSession(context.Background(), kpeer.NewIoServiceBase(&conf), c1)
	t.Cleanup(s.Close)
	return s
}

func TestCodecRoundTrip(t *testing.T) {
	c := newCodec(t)
	params := kpeer.MessageParameters{Kind: kpeer.KindRequest, CorrelationID: 12, Channel: 2}

	data, err := c.Encode(nil, ping{Seq: 3}, params)
	if err != nil {
		t.Fatal(err)
	}
	if data[len(data)-1] != '\n' {
		t.Fatalf("encoded message %q lacks a line terminator", data)
	}

	msg, err := c.Decode(newSession(t), strings.NewReader(string(data)))
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := msg.Payload().(ping); !ok || got.Seq != 3 {
		t.Fatalf("payload = %#v, want ping{3}", msg.Payload())
	}
	got := msg.Parameters()
	if got.Kind != params.Kind || got.CorrelationID != params.CorrelationID || got.Channel != params.Channel {
		t.Fatalf("params = %+v, want %+v", got, params)
	}
}

func TestCodecPointerTypes(t *testing.T) {
	c := newCodec(t)

	data, err := c.Marshal(&note{Text: "hi"}, kpeer.MessageParameters{})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := c.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := msg.Payload().(*note); !ok || got.Text != "hi" {
		t.Fatalf("payload = %#v, want &note{hi}", msg.Payload())
	}

	if _, err = c.Marshal(note{Text: "hi"}, kpeer.MessageParameters{}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("value of a pointer-registered type: err = %v, want ErrUnknownType", err)
	}
}

func TestCodecRegisterDuplicate(t *testing.T) {
	c := newCodec(t)
	if err := c.Register("ping", note{}); !errors.Is(err, ErrDuplicateType) {
		t.Errorf("duplicate name: err = %v, want ErrDuplicateType", err)
	}
	if err := c.Register("ping2", ping{}); !errors.Is(err, ErrDuplicateType) {
		t.Errorf("duplicate type: err = %v, want ErrDuplicateType", err)
	}
	if err := c.Register("nil", nil); !errors.Is(err, kpeer.ErrNilPayload) {
		t.Errorf("nil sample: err = %v, want ErrNilPayload", err)
	}
}

func TestCodecUnknownType(t *testing.T) {
	c := newCodec(t)
	if _, err := c.Unmarshal([]byte(`{"type":"pong","body":{}}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestCodecSkipsBlankLines(t *testing.T) {
	c := newCodec(t)
	s := newSession(t)
	r := strings.NewReader("\n" + `{"type":"ping","body":{"seq":1}}` + "\n")

	msg, err := c.Decode(s, r)
	if err != nil || msg != nil {
		t.Fatalf("blank line: Decode() = %v, %v; want nil, nil", msg, err)
	}
	if msg, err = c.Decode(s, r); err != nil {
		t.Fatal(err)
	}
	if msg.Payload().(ping).Seq != 1 {
		t.Fatalf("payload = %v", msg.Payload())
	}
}

func TestCodecKeepsPartialLineAcrossTimeout(t *testing.T) {
	c := newCodec(t)
	s := newSession(t)
	r := &chunkReader{chunks: []string{`{"type":"ping",`, "", `"body":{"seq":9}}` + "\n"}}

	_, err := c.Decode(s, r)
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("err = %v, want a timeout", err)
	}

	msg, err := c.Decode(s, r)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Payload().(ping).Seq != 9 {
		t.Fatalf("payload = %v", msg.Payload())
	}
}

func TestCodecLineTooLong(t *testing.T) {
	c := newCodec(t)
	c.MaxLineSize = 32

	if _, err := c.Marshal(note{}, kpeer.MessageParameters{}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
	if _, err := c.Marshal(&note{Text: strings.Repeat("x", 64)}, kpeer.MessageParameters{}); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("Marshal: err = %v, want ErrLineTooLong", err)
	}

	line := `{"type":"note","body":{"text":"` + strings.Repeat("x", 64) + `"}}` + "\n"
	if _, err := c.Decode(newSession(t), strings.NewReader(line)); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("Decode: err = %v, want ErrLineTooLong", err)
	}
}
