package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProtocol(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  protocolType
	}{
		{"websocket upgrade", "GET /ws HTTP/1.1\r\n", protocolHTTP},
		{"post", "POST /x HTTP/1.1\r\n", protocolHTTP},
		{"options", "OPTIONS * HTTP/1.1\r\n", protocolHTTP},
		{"json line", `{"type":"login"}` + "\n", protocolTCP},
		{"lowercase method", "get / HTTP/1.1\r\n", protocolTCP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			go client.Write([]byte(tt.input))

			got, reader, err := detectProtocol(server, time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// Peeked bytes are still available to the transport.
			head, err := reader.Peek(4)
			require.NoError(t, err)
			assert.Equal(t, tt.input[:4], string(head))
		})
	}
}

func TestDetectProtocol_SilentClientIsTCP(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	got, _, err := detectProtocol(server, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, protocolTCP, got)
	assert.Equal(t, "tcp", got.String())
}

func TestDetectProtocol_ClosedBeforeData(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	client.Close()

	_, _, err := detectProtocol(server, time.Second)
	assert.Error(t, err)
}
