package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

const maxFrameSize = 4 << 20

var ErrClosed = errors.New("ipc channel closed")

type ConnOptions struct {
	// OnError receives frames that fail to decode and the terminal read error.
	OnError func(error)
}

// Conn is a Channel over a newline-delimited JSON stream.
type Conn struct {
	writer    io.Writer
	closers   []io.Closer
	sendMu    sync.Mutex
	mu        sync.Mutex
	listeners []listenerEntry
	nextID    uint64
	onError   func(error)
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

type listenerEntry struct {
	id uint64
	fn func(Message)
}

// NewConn starts reading frames from reader. If reader or writer implement
// io.Closer they are closed by Close.
func NewConn(reader io.Reader, writer io.Writer, options ConnOptions) *Conn {
	conn := &Conn{
		writer:  writer,
		onError: options.OnError,
		done:    make(chan struct{}),
	}
	if closer, ok := reader.(io.Closer); ok {
		conn.closers = append(conn.closers, closer)
	}
	if closer, ok := writer.(io.Closer); ok && any(writer) != any(reader) {
		conn.closers = append(conn.closers, closer)
	}
	go conn.readLoop(reader)
	return conn
}

func (conn *Conn) OnMessage(fn func(Message)) func() {
	if conn == nil || fn == nil {
		return func() {}
	}
	conn.mu.Lock()
	conn.nextID++
	id := conn.nextID
	conn.listeners = append(conn.listeners, listenerEntry{id: id, fn: fn})
	conn.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			conn.removeListener(id)
		})
	}
}

func (conn *Conn) Send(message Message) error {
	if conn == nil {
		return ErrClosed
	}
	if conn.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	conn.sendMu.Lock()
	defer conn.sendMu.Unlock()
	_, err = conn.writer.Write(data)
	return err
}

// Done is closed once the read side has ended.
func (conn *Conn) Done() <-chan struct{} {
	return conn.done
}

func (conn *Conn) Close() error {
	if conn == nil {
		return nil
	}
	var err error
	conn.closeOnce.Do(func() {
		conn.closed.Store(true)
		for _, closer := range conn.closers {
			if closeErr := closer.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
	})
	return err
}

func (conn *Conn) ListenerCount() int {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return len(conn.listeners)
}

func (conn *Conn) readLoop(reader io.Reader) {
	defer close(conn.done)

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var message Message
		if err := json.Unmarshal(line, &message); err != nil {
			conn.reportError(err)
			continue
		}
		conn.dispatch(message)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		conn.reportError(err)
	}
}

func (conn *Conn) dispatch(message Message) {
	conn.mu.Lock()
	listeners := make([]listenerEntry, len(conn.listeners))
	copy(listeners, conn.listeners)
	conn.mu.Unlock()

	for _, listener := range listeners {
		listener.fn(message)
	}
}

func (conn *Conn) removeListener(id uint64) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	for index, entry := range conn.listeners {
		if entry.id == id {
			conn.listeners = append(conn.listeners[:index], conn.listeners[index+1:]...)
			return
		}
	}
}

func (conn *Conn) reportError(err error) {
	if conn.onError != nil {
		conn.onError(err)
	}
}
