package server

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"os"
	"time"
)

type protocolType int

const (
	protocolTCP protocolType = iota
	protocolHTTP
)

func (p protocolType) String() string {
	if p == protocolHTTP {
		return "http"
	}
	return "tcp"
}

// HTTP requests start with a method token.
var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("HEAD"),
	[]byte("OPTI"),
	[]byte("PATC"),
	[]byte("DELE"),
	[]byte("CONN"),
}

// detectProtocol peeks at the first bytes to determine protocol type.
// A client that stays silent for the whole window is a line client waiting
// for its greeting. The returned reader holds the peeked bytes.
func detectProtocol(conn net.Conn, window time.Duration) (protocolType, *bufio.Reader, error) {
	reader := bufio.NewReader(conn)

	if window > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(window))
		defer conn.SetReadDeadline(time.Time{})
	}

	peek, err := reader.Peek(4)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return protocolTCP, reader, nil
		}
		return protocolTCP, reader, err
	}

	for _, m := range httpMethods {
		if bytes.HasPrefix(peek, m) {
			return protocolHTTP, reader, nil
		}
	}
	return protocolTCP, reader, nil
}
