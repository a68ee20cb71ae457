package broadcast

import (
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/rtsp2web/internal/process"
)

// newTestServer wires a broadcast server to a shell script standing in
// for the transcoder.
func newTestServer(t *testing.T, script string) *Server {
	t.Helper()

	sup := process.NewSupervisor(process.Config{
		Name:         "test/broadcast",
		Binary:       "/bin/sh",
		Args:         []string{"-c", script},
		StreamOutput: true,
		RestartDelay: 50 * time.Millisecond,
		Logger:       zap.NewNop(),
	})

	s := NewServer(Config{
		StreamID:   "test",
		Port:       0,
		Supervisor: sup,
		Logger:     zap.NewNop(),
	})

	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func dial(t *testing.T, port int) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", port), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	return conn
}

func readBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()

	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)
	return data
}

func TestHeaderFirstAndIdenticalAcrossClients(t *testing.T) {
	s := newTestServer(t, "sleep 5")

	var headers [][]byte
	for i := 0; i < 3; i++ {
		conn := dial(t, s.Port())
		headers = append(headers, readBinary(t, conn))
	}

	for _, header := range headers {
		require.Len(t, header, HeaderSize)
		assert.Equal(t, []byte(HeaderMagic), header[0:4])
		assert.Equal(t, headers[0], header)
	}

	// defaults apply until the source has been sniffed
	assert.Equal(t, uint16(640), binary.BigEndian.Uint16(headers[0][4:6]))
	assert.Equal(t, uint16(480), binary.BigEndian.Uint16(headers[0][6:8]))
}

func TestHeaderUsesSniffedDimensions(t *testing.T) {
	script := `echo "Stream #0: Video: h264, 1280x720" 1>&2; sleep 5`
	s := newTestServer(t, script)

	require.Eventually(t, func() bool {
		_, _, ok := s.Supervisor().Dimensions()
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	conn := dial(t, s.Port())
	header := readBinary(t, conn)

	require.Len(t, header, HeaderSize)
	assert.Equal(t, uint16(1280), binary.BigEndian.Uint16(header[4:6]))
	assert.Equal(t, uint16(720), binary.BigEndian.Uint16(header[6:8]))
}

func TestPayloadFanOutIsByteIdentical(t *testing.T) {
	// delay gives the clients time to join before the payload flows
	s := newTestServer(t, "sleep 1; printf streamdata; sleep 5")

	conns := []*websocket.Conn{dial(t, s.Port()), dial(t, s.Port()), dial(t, s.Port())}

	collect := func(conn *websocket.Conn) string {
		header := readBinary(t, conn)
		require.Len(t, header, HeaderSize)

		var payload []byte
		for len(payload) < len("streamdata") {
			payload = append(payload, readBinary(t, conn)...)
		}
		return string(payload)
	}

	for _, conn := range conns {
		assert.Equal(t, "streamdata", collect(conn))
	}
}

func TestClientDisconnectDoesNotAffectOthers(t *testing.T) {
	s := newTestServer(t, "sleep 1; printf data; sleep 5")

	early := dial(t, s.Port())
	readBinary(t, early) // header
	early.Close()

	survivor := dial(t, s.Port())
	readBinary(t, survivor) // header
	payload := readBinary(t, survivor)
	assert.Equal(t, "data", string(payload))

	require.Eventually(t, func() bool {
		return s.ClientCount() == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStopRefusesNewConnections(t *testing.T) {
	s := newTestServer(t, "sleep 5")
	port := s.Port()

	conn := dial(t, port)
	readBinary(t, conn)

	s.Stop()
	s.Stop() // idempotent

	_, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", port), nil)
	assert.Error(t, err)
}

func TestStartIsIdempotent(t *testing.T) {
	s := newTestServer(t, "sleep 5")
	port := s.Port()

	require.NoError(t, s.Start())
	assert.Equal(t, port, s.Port())
	assert.True(t, s.Running())
}
