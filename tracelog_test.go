package tracelog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

type TestMessage struct {
	Tag    string
	Time   time.Time
	Record map[string]any
	Option map[string]any
}

// DecodeMsgpack deserializes the payload, which is expected to conform to the
// Fluent Message event mode format.
// [
//
//	 	tag<string>,
//		time<EventTime | int>,
//		record<map[string]any>,
//		option<optional map[string]any>
//
// ]
func (m *TestMessage) DecodeMsgpack(dec *msgpack.Decoder) error {

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return fmt.Errorf("failed to decode outer message array length: %v", err)
	}

	// decode the tag
	err = dec.Decode(&m.Tag)
	if err != nil {
		return fmt.Errorf("failed to decode tag field: %v", err)
	}

	// decode the timestamp
	typeCode, err := dec.PeekCode()
	if err != nil {
		return fmt.Errorf("failed to read type code for the time field: %v", err)
	}
	switch {
	case typeCode == msgpcode.FixExt8:
		et := EventTime{}
		err = dec.Decode(&et)
		if err != nil {
			return fmt.Errorf("failed to decode the time field: %v", err)
		}
		m.Time = time.Time(et)
	default:
		unix, err := dec.DecodeInt64()
		if err != nil {
			return fmt.Errorf("failed to decode the time field: %v", err)
		}
		m.Time = time.Unix(unix, 0).UTC()
	}

	// decode the record
	err = dec.Decode(&m.Record)
	if err != nil {
		return fmt.Errorf("failed to decode the record field: %v", err)
	}

	if n == 4 {
		// decode the option field
		err = dec.Decode(&m.Option)
		if err != nil {
			return fmt.Errorf("failed to decode the option field: %v", err)
		}
	}
	return nil
}

func decodeTestMessage(b []byte) (*TestMessage, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	m := new(TestMessage)
	if err := dec.Decode(m); err != nil {
		return nil, err
	}
	return m, nil
}

type testServer struct {
	listener   net.Listener
	messageCh  chan *TestMessage
	network    string
	host       string
	port       int
	shutdownCh chan struct{}
	*testServerOptions
}

const testHost = "127.0.0.1"
const testTag = "test-tag"

type testServerOptions struct {
	verbose bool
}

func newTestServer(opts *testServerOptions) (*testServer, error) {
	if opts == nil {
		opts = &testServerOptions{}
	}

	s := &testServer{
		messageCh:         make(chan *TestMessage, 128),
		shutdownCh:        make(chan struct{}),
		network:           "tcp",
		host:              testHost,
		testServerOptions: opts,
	}

	// assign port dynamically (use port 0 to assign dynamically)
	l, err := net.Listen(s.network, s.host+":0")
	if err != nil {
		return nil, fmt.Errorf("failed to start test server listener: %v", err)
	}
	s.listener = l

	// parse out the dynamically assigned port
	addr := l.Addr().String()
	idx := strings.LastIndex(addr, ":")
	if idx == len(addr)-1 {
		return nil, errors.New("bad addr: ends with ':'")
	}
	s.port, err = strconv.Atoi(addr[idx+1:])
	if err != nil {
		return nil, fmt.Errorf("invalid port value: '%s': %v", addr[idx+1:], err)
	}

	// start the server loop
	go func() {
		s.debug("starting listener")
		for {
			conn, err := l.Accept()
			if err != nil {
				select {
				case <-s.shutdownCh:
					s.debug("shutting down")
					return
				default:
				}
				s.debug("listener.Accept() error: " + err.Error())
				continue
			}
			s.debug("new client connected")
			go s.handle(conn)
		}
	}()

	return s, nil
}

func (s *testServer) Shutdown() {
	close(s.shutdownCh)
	s.listener.Close()
}

func (s *testServer) handle(conn net.Conn) {
	d := msgpack.NewDecoder(conn)
	d.UseLooseInterfaceDecoding(true)

	for {
		// only supporting msg mode for now
		m := new(TestMessage)
		err := d.Decode(m)
		if err != nil {
			s.debug("failed to decode Fluent Message: " + err.Error())
			break
		}
		s.messageCh <- m
	}

	s.debug("closing connection")
	conn.Close()
}

func (s *testServer) next(timeout time.Duration) (*TestMessage, error) {
	select {
	case m := <-s.messageCh:
		return m, nil
	case <-time.After(timeout):
		return nil, errors.New("timed out waiting for a message")
	}
}

func (s *testServer) debug(msg string) {
	if !s.verbose {
		return
	}
	InternalLogger().Debug().Str("component", "test_server").Msg(msg)
}

// testSender is a Sender that records all messages rather than send them to
// a server.
type testSender struct {
	mu     sync.Mutex
	logs   []*TestMessage
	errs   []error
	reject bool
	closed bool
}

func newTestSender() *testSender {
	return &testSender{logs: make([]*TestMessage, 0)}
}

func (c *testSender) Send(enc *Encoder) bool {
	defer enc.Free()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reject || c.closed {
		return false
	}

	m, err := decodeTestMessage(enc.Bytes())
	if err != nil {
		c.errs = append(c.errs, err)
		return true
	}
	c.logs = append(c.logs, m)
	return true
}

func (c *testSender) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *testSender) messages() []*TestMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*TestMessage(nil), c.logs...)
}
