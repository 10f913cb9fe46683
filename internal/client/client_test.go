package client

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkowalczyk/siteblock/internal/accesslog"
	"github.com/pkowalczyk/siteblock/internal/protocol"
)

// mockServer creates a mock Unix socket server for testing
type mockServer struct {
	listener net.Listener
	path     string
	handler  func(req *protocol.Request) *protocol.Response
}

func newMockServer(t *testing.T) *mockServer {
	// Use /tmp directly to avoid long paths (Unix socket paths have ~104 char limit on macOS)
	tmpDir, err := os.MkdirTemp("/tmp", "siteblock")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	socketPath := filepath.Join(tmpDir, "s.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ms := &mockServer{
		listener: listener,
		path:     socketPath,
	}

	go ms.serve()

	return ms
}

func (ms *mockServer) serve() {
	for {
		conn, err := ms.listener.Accept()
		if err != nil {
			return
		}
		go ms.handleConn(conn)
	}
}

func (ms *mockServer) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}

		var resp *protocol.Response
		if ms.handler != nil {
			resp = ms.handler(&req)
		} else {
			resp, _ = protocol.NewOKResponse(nil)
		}

		data, _ := json.Marshal(resp)
		conn.Write(append(data, '\n'))
	}
}

func (ms *mockServer) close() {
	ms.listener.Close()
	os.Remove(ms.path)
}

func connectedClient(t *testing.T, server *mockServer) *Client {
	t.Helper()
	client := New(server.path)
	require.NoError(t, client.Connect())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClient_Connect(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := newMockServer(t)
		defer server.close()

		client := New(server.path)
		err := client.Connect()
		require.NoError(t, err)
		defer client.Close()

		assert.NotNil(t, client.conn)
		assert.NotNil(t, client.reader)
	})

	t.Run("failure - socket not found", func(t *testing.T) {
		client := New("/nonexistent/socket.sock")
		err := client.Connect()
		assert.Error(t, err)
	})
}

func TestClient_Ping(t *testing.T) {
	server := newMockServer(t)
	defer server.close()

	server.handler = func(req *protocol.Request) *protocol.Response {
		if req.Type == protocol.RequestPing {
			resp, _ := protocol.NewOKResponse(map[string]string{"pong": "ok"})
			return resp
		}
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "unexpected request")
	}

	client := connectedClient(t, server)
	assert.NoError(t, client.Ping())
}

func TestClient_NotConnected(t *testing.T) {
	client := New("/tmp/never-dialed.sock")
	err := client.Ping()
	assert.Error(t, err)
}

func TestClient_Status(t *testing.T) {
	server := newMockServer(t)
	defer server.close()

	server.handler = func(req *protocol.Request) *protocol.Response {
		if req.Type != protocol.RequestStatus {
			return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "unexpected request")
		}
		resp, _ := protocol.NewOKResponse(protocol.StatusData{
			Active:      true,
			Enabled:     true,
			DomainCount: 3,
			Version:     "1.0.0",
		})
		return resp
	}

	client := connectedClient(t, server)
	status, err := client.Status()
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, 3, status.DomainCount)
	assert.Equal(t, "1.0.0", status.Version)
}

func TestClient_List(t *testing.T) {
	server := newMockServer(t)
	defer server.close()

	server.handler = func(req *protocol.Request) *protocol.Response {
		resp, _ := protocol.NewOKResponse(protocol.ListData{
			Domains: []string{"news.ycombinator.com", "reddit.com"},
		})
		return resp
	}

	client := connectedClient(t, server)
	domains, err := client.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"news.ycombinator.com", "reddit.com"}, domains)
}

func TestClient_Add(t *testing.T) {
	server := newMockServer(t)
	defer server.close()

	server.handler = func(req *protocol.Request) *protocol.Response {
		var payload protocol.DomainsPayload
		if err := req.ParsePayload(&payload); err != nil {
			return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "bad payload")
		}
		resp, _ := protocol.NewOKResponse(protocol.DomainsData{Domains: payload.Domains})
		return resp
	}

	client := connectedClient(t, server)
	added, err := client.Add([]string{"reddit.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"reddit.com"}, added)
}

func TestClient_Add_ServerError(t *testing.T) {
	server := newMockServer(t)
	defer server.close()

	server.handler = func(req *protocol.Request) *protocol.Response {
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidDomain, "not a valid domain")
	}

	client := connectedClient(t, server)
	_, err := client.Add([]string{"nodots"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_DOMAIN")
}

func TestClient_Remove(t *testing.T) {
	server := newMockServer(t)
	defer server.close()

	server.handler = func(req *protocol.Request) *protocol.Response {
		if req.Type != protocol.RequestRemove {
			return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "unexpected request")
		}
		resp, _ := protocol.NewOKResponse(protocol.DomainsData{Domains: []string{"reddit.com"}})
		return resp
	}

	client := connectedClient(t, server)
	removed, err := client.Remove([]string{"www.reddit.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"reddit.com"}, removed)
}

func TestClient_EnableDisable(t *testing.T) {
	server := newMockServer(t)
	defer server.close()

	var seen []protocol.RequestType
	server.handler = func(req *protocol.Request) *protocol.Response {
		seen = append(seen, req.Type)
		resp, _ := protocol.NewOKResponse(nil)
		return resp
	}

	client := connectedClient(t, server)
	require.NoError(t, client.Enable())
	require.NoError(t, client.Disable())
	assert.Equal(t, []protocol.RequestType{protocol.RequestEnable, protocol.RequestDisable}, seen)
}

func TestClient_Enable_EmptyBlocklist(t *testing.T) {
	server := newMockServer(t)
	defer server.close()

	server.handler = func(req *protocol.Request) *protocol.Response {
		return protocol.NewErrorResponse(protocol.ErrCodeEmptyBlocklist, "no domains in the blocklist")
	}

	client := connectedClient(t, server)
	err := client.Enable()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMPTY_BLOCKLIST")
}

func TestClient_AccessLog(t *testing.T) {
	server := newMockServer(t)
	defer server.close()

	server.handler = func(req *protocol.Request) *protocol.Response {
		var payload protocol.LogPayload
		_ = req.ParsePayload(&payload)
		if payload.Days != 7 {
			return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "unexpected days")
		}
		resp, _ := protocol.NewOKResponse(protocol.LogData{
			Entries: []accesslog.Entry{{Domain: "reddit.com", TS: "2025-06-09T10:00:00Z"}},
		})
		return resp
	}

	client := connectedClient(t, server)
	entries, err := client.AccessLog(7)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "reddit.com", entries[0].Domain)
}

func TestClient_Timeout(t *testing.T) {
	server := newMockServer(t)
	defer server.close()

	// Socket file exists but nothing accepts.
	server.listener.Close()

	client := NewWithTimeout(server.path, 100*time.Millisecond)
	err := client.Connect()
	assert.Error(t, err)
}

func TestClient_TimeoutCoversSlowResponse(t *testing.T) {
	server := newMockServer(t)
	defer server.close()

	// Stands in for the agent waiting on the elevation prompt.
	server.handler = func(req *protocol.Request) *protocol.Response {
		time.Sleep(300 * time.Millisecond)
		resp, _ := protocol.NewOKResponse(nil)
		return resp
	}

	short := NewWithTimeout(server.path, 50*time.Millisecond)
	require.NoError(t, short.Connect())
	defer short.Close()
	assert.Error(t, short.Enable())

	patient := NewWithTimeout(server.path, 5*time.Second)
	require.NoError(t, patient.Connect())
	defer patient.Close()
	assert.NoError(t, patient.Enable())
}

func TestIsConnected(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		server := newMockServer(t)
		defer server.close()
		assert.True(t, IsConnected(server.path))
	})

	t.Run("unreachable", func(t *testing.T) {
		assert.False(t, IsConnected("/tmp/no-such-agent.sock"))
	})
}
