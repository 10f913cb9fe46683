package protocol

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketPath(t *testing.T) {
	t.Run("runtime dir", func(t *testing.T) {
		t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
		assert.Equal(t, "/run/user/1000/siteblock.sock", SocketPath())
	})

	t.Run("fallback to temp dir", func(t *testing.T) {
		t.Setenv("XDG_RUNTIME_DIR", "")
		path := SocketPath()
		assert.True(t, strings.HasPrefix(path, os.TempDir()))
		assert.Contains(t, path, "siteblock-")
		assert.True(t, strings.HasSuffix(path, ".sock"))
	})
}

func TestNewRequest(t *testing.T) {
	tests := []struct {
		name    string
		reqType RequestType
		payload interface{}
	}{
		{
			name:    "ping request without payload",
			reqType: RequestPing,
			payload: nil,
		},
		{
			name:    "add request with payload",
			reqType: RequestAdd,
			payload: DomainsPayload{Domains: []string{"reddit.com"}},
		},
		{
			name:    "log request with payload",
			reqType: RequestLog,
			payload: LogPayload{Days: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest(tt.reqType, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.reqType, req.Type)
			if tt.payload != nil {
				assert.NotNil(t, req.Payload)
			}
		})
	}
}

func TestRequest_ParsePayload(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		payload := DomainsPayload{Domains: []string{"reddit.com", "twitter.com"}}
		req, err := NewRequest(RequestRemove, payload)
		require.NoError(t, err)

		var parsed DomainsPayload
		err = req.ParsePayload(&parsed)
		require.NoError(t, err)
		assert.Equal(t, []string{"reddit.com", "twitter.com"}, parsed.Domains)
	})

	t.Run("nil payload", func(t *testing.T) {
		req := &Request{Type: RequestPing}
		var parsed DomainsPayload
		err := req.ParsePayload(&parsed)
		assert.Error(t, err)
	})
}

func TestNewOKResponse(t *testing.T) {
	t.Run("with data", func(t *testing.T) {
		data := StatusData{
			Active:      true,
			Enabled:     true,
			DomainCount: 5,
			Version:     "1.0.0",
		}

		resp, err := NewOKResponse(data)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Status)
		assert.NotNil(t, resp.Data)
		assert.True(t, resp.IsOK())
	})

	t.Run("without data", func(t *testing.T) {
		resp, err := NewOKResponse(nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Status)
		assert.Nil(t, resp.Data)
	})
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(ErrCodeInvalidDomain, "not a valid domain")

	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeInvalidDomain, resp.Code)
	assert.Equal(t, "not a valid domain", resp.Message)
	assert.False(t, resp.IsOK())
}

func TestResponse_ParseData(t *testing.T) {
	t.Run("valid data", func(t *testing.T) {
		data := ListData{Domains: []string{"news.ycombinator.com", "reddit.com"}}
		resp, err := NewOKResponse(data)
		require.NoError(t, err)

		var parsed ListData
		err = resp.ParseData(&parsed)
		require.NoError(t, err)
		assert.Equal(t, data.Domains, parsed.Domains)
	})

	t.Run("nil data", func(t *testing.T) {
		resp := &Response{Status: "ok"}
		var parsed ListData
		err := resp.ParseData(&parsed)
		assert.Error(t, err)
	})
}

func TestRequestTypes(t *testing.T) {
	types := []RequestType{
		RequestPing,
		RequestStatus,
		RequestList,
		RequestAdd,
		RequestRemove,
		RequestEnable,
		RequestDisable,
		RequestLog,
	}

	for _, rt := range types {
		t.Run(string(rt), func(t *testing.T) {
			req, err := NewRequest(rt, nil)
			require.NoError(t, err)
			assert.Equal(t, rt, req.Type)

			// Verify JSON marshaling works
			data, err := json.Marshal(req)
			require.NoError(t, err)
			assert.Contains(t, string(data), string(rt))
		})
	}
}

func TestErrorCodes(t *testing.T) {
	codes := []ErrorCode{
		ErrCodeInvalidRequest,
		ErrCodeInvalidDomain,
		ErrCodeEmptyBlocklist,
		ErrCodeRateLimited,
		ErrCodeUnauthorized,
		ErrCodePermissionError,
		ErrCodeInternalError,
	}

	for _, code := range codes {
		t.Run(string(code), func(t *testing.T) {
			resp := NewErrorResponse(code, "test error")
			assert.Equal(t, code, resp.Code)

			// Verify JSON marshaling works
			data, err := json.Marshal(resp)
			require.NoError(t, err)
			assert.Contains(t, string(data), string(code))
		})
	}
}
