package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "taskd.sock")
	s := NewServer(nil, sock)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return sock
}

func TestPingOverSocket(t *testing.T) {
	sock := startTestServer(t)

	c, err := Dial(sock)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ping())
}

func TestOversizedRequestLineGetsErrorResponse(t *testing.T) {
	sock := startTestServer(t)

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	// One byte past the line cap; the server must answer before closing
	// rather than dropping the connection with no response.
	payload := bytes.Repeat([]byte("x"), maxRequestLine+1)
	_, err = conn.Write(append(payload, '\n'))
	require.NoError(t, err)

	line, err := bufio.NewReaderSize(conn, 64*1024).ReadBytes('\n')
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.False(t, resp.Success)
	require.Equal(t, CodeInvalidParameters, resp.Code)
	require.Contains(t, resp.Error, "exceeds")
}
