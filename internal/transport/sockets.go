package transport

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"

	"github.com/gorilla/websocket"
)

// wsSocket adapts a *websocket.Conn to bridge.Socket for legs that speak
// genuine WebSocket framing (ws and xhttp transports).
type wsSocket struct {
	conn *websocket.Conn
	once sync.Once
}

func (s *wsSocket) ReadMessage() (int, []byte, error) {
	return s.conn.ReadMessage()
}

func (s *wsSocket) WriteMessage(messageType int, payload []byte) error {
	return s.conn.WriteMessage(messageType, payload)
}

func (s *wsSocket) Close(code int, reason string) error {
	var err error
	s.once.Do(func() {
		deadline := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteMessage(websocket.CloseMessage, deadline)
		err = s.conn.Close()
	})
	return err
}

// rawSocket adapts a hijacked net.Conn to bridge.Socket for the httpupgrade
// transport, which carries an arbitrary Upgrade token and an unframed byte
// stream rather than WebSocket frames. Every read/write is treated as a
// single binary chunk.
type rawSocket struct {
	conn net.Conn
	// src is conn itself, unless the hijack left buffered bytes behind
	// (e.g. pipelined data after the header boundary), in which case it
	// chains the buffered bytes ahead of the live connection.
	src  io.Reader
	once sync.Once
}

func newRawSocket(conn net.Conn, buffered *bufio.Reader) *rawSocket {
	src := io.Reader(conn)
	if buffered != nil && buffered.Buffered() > 0 {
		pending := make([]byte, buffered.Buffered())
		_, _ = io.ReadFull(buffered, pending)
		src = io.MultiReader(bytes.NewReader(pending), conn)
	}
	return &rawSocket{conn: conn, src: src}
}

func (s *rawSocket) ReadMessage() (int, []byte, error) {
	buf := make([]byte, 32*1024)
	n, err := s.src.Read(buf)
	if err != nil {
		return 0, nil, err
	}
	return websocket.BinaryMessage, buf[:n], nil
}

func (s *rawSocket) WriteMessage(_ int, payload []byte) error {
	_, err := s.conn.Write(payload)
	return err
}

func (s *rawSocket) Close(_ int, _ string) error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close()
	})
	return err
}
