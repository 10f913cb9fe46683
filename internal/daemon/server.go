package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/pkowalczyk/siteblock/internal/blocker"
	"github.com/pkowalczyk/siteblock/internal/blocklist"
	"github.com/pkowalczyk/siteblock/internal/hosts"
	"github.com/pkowalczyk/siteblock/internal/protocol"
)

// Server is the agent's Unix socket server. It authorizes peers by UID
// and dispatches requests to the blocker service.
type Server struct {
	socketPath  string
	listener    net.Listener
	svc         *blocker.Service
	rateLimiter *RateLimiter
	auditLogger *AuditLogger
	logger      *zap.Logger
	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
}

// NewServer creates a new agent server.
func NewServer(socketPath string, svc *blocker.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		socketPath:  socketPath,
		svc:         svc,
		rateLimiter: NewRateLimiter(RateLimit, RateLimitWindow),
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// Start starts listening on the socket. The socket is owned by the
// agent's user and readable by no one else.
func (s *Server) Start() error {
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	// Audit logging is best-effort.
	auditPath := filepath.Join(blocklist.DefaultDir(), AuditLogName)
	if logger, err := NewAuditLogger(auditPath); err == nil {
		s.auditLogger = logger
	} else {
		s.logger.Warn("audit log unavailable", zap.Error(err))
	}

	go s.acceptLoop()

	return nil
}

// Stop stops the server and removes the socket.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	if s.listener != nil {
		s.listener.Close()
	}

	os.Remove(s.socketPath)

	if s.auditLogger != nil {
		s.auditLogger.Close()
	}

	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	creds := s.getPeerCredentials(conn)

	if !s.isAuthorized(creds) {
		s.writeResponse(conn, protocol.NewErrorResponse(protocol.ErrCodeUnauthorized, "unauthorized: socket is private to its owner"))
		if s.auditLogger != nil {
			var uid uint32
			var pid int32
			if creds != nil {
				uid = creds.UID
				pid = creds.PID
			}
			s.auditLogger.Log(uid, pid, "connect", nil, false, "unauthorized access attempt")
		}
		return
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(conn, protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "invalid JSON"))
			continue
		}

		if creds != nil && !s.rateLimiter.Allow(creds.PID) {
			s.writeResponse(conn, protocol.NewErrorResponse(protocol.ErrCodeRateLimited, "rate limit exceeded"))
			continue
		}

		resp := s.handleRequest(&req, creds)
		s.writeResponse(conn, resp)
	}
}

// isAuthorized accepts the agent's own user and root. The agent is
// per-user, so there is no shared group to consult.
func (s *Server) isAuthorized(creds *PeerCredentials) bool {
	if creds == nil {
		return false
	}
	if creds.UID == 0 {
		return true
	}
	return int(creds.UID) == os.Getuid()
}

func (s *Server) writeResponse(conn net.Conn, resp *protocol.Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	conn.Write(data)
}

func (s *Server) handleRequest(req *protocol.Request, creds *PeerCredentials) *protocol.Response {
	var uid uint32
	var pid int32
	if creds != nil {
		uid = creds.UID
		pid = creds.PID
	}

	switch req.Type {
	case protocol.RequestPing:
		resp, _ := protocol.NewOKResponse(map[string]string{"pong": "ok"})
		return resp

	case protocol.RequestStatus:
		return s.handleStatus()

	case protocol.RequestList:
		return s.handleList()

	case protocol.RequestAdd:
		resp := s.handleAdd(req)
		s.audit(uid, pid, "add", req, resp)
		return resp

	case protocol.RequestRemove:
		resp := s.handleRemove(req)
		s.audit(uid, pid, "remove", req, resp)
		return resp

	case protocol.RequestEnable:
		resp := s.handleEnable()
		s.audit(uid, pid, "enable", nil, resp)
		return resp

	case protocol.RequestDisable:
		resp := s.handleDisable()
		s.audit(uid, pid, "disable", nil, resp)
		return resp

	case protocol.RequestLog:
		return s.handleLog(req)

	default:
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, fmt.Sprintf("unknown request type: %s", req.Type))
	}
}

func (s *Server) audit(uid uint32, pid int32, action string, req *protocol.Request, resp *protocol.Response) {
	if s.auditLogger == nil {
		return
	}
	var details any
	if req != nil {
		var payload protocol.DomainsPayload
		if req.ParsePayload(&payload) == nil {
			details = payload
		}
	}
	s.auditLogger.Log(uid, pid, action, details, resp.IsOK(), resp.Message)
}

func (s *Server) handleStatus() *protocol.Response {
	st, err := s.svc.Status()
	if err != nil {
		return errorResponse(err)
	}
	resp, _ := protocol.NewOKResponse(st)
	return resp
}

func (s *Server) handleList() *protocol.Response {
	domains, err := s.svc.Domains()
	if err != nil {
		return errorResponse(err)
	}
	resp, _ := protocol.NewOKResponse(protocol.ListData{Domains: domains})
	return resp
}

func (s *Server) handleAdd(req *protocol.Request) *protocol.Response {
	var payload protocol.DomainsPayload
	if err := req.ParsePayload(&payload); err != nil {
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "invalid payload")
	}
	if len(payload.Domains) == 0 {
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "domains are required")
	}

	added, err := s.svc.Add(payload.Domains)
	if err != nil {
		return errorResponse(err)
	}
	resp, _ := protocol.NewOKResponse(protocol.DomainsData{Domains: added})
	return resp
}

func (s *Server) handleRemove(req *protocol.Request) *protocol.Response {
	var payload protocol.DomainsPayload
	if err := req.ParsePayload(&payload); err != nil {
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "invalid payload")
	}
	if len(payload.Domains) == 0 {
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "domains are required")
	}

	removed, err := s.svc.Remove(payload.Domains)
	if err != nil {
		return errorResponse(err)
	}
	resp, _ := protocol.NewOKResponse(protocol.DomainsData{Domains: removed})
	return resp
}

func (s *Server) handleEnable() *protocol.Response {
	if err := s.svc.Enable(); err != nil {
		return errorResponse(err)
	}
	resp, _ := protocol.NewOKResponse(map[string]bool{"enabled": true})
	return resp
}

func (s *Server) handleDisable() *protocol.Response {
	if err := s.svc.Disable(); err != nil {
		return errorResponse(err)
	}
	resp, _ := protocol.NewOKResponse(map[string]bool{"enabled": false})
	return resp
}

func (s *Server) handleLog(req *protocol.Request) *protocol.Response {
	var payload protocol.LogPayload
	if req.Payload != nil {
		if err := req.ParsePayload(&payload); err != nil {
			return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "invalid payload")
		}
	}

	entries := s.svc.AccessLog(payload.Days)
	resp, _ := protocol.NewOKResponse(protocol.LogData{Entries: entries})
	return resp
}

// errorResponse maps service errors onto protocol error codes.
func errorResponse(err error) *protocol.Response {
	switch {
	case errors.Is(err, blocklist.ErrEmptyInput), errors.Is(err, blocklist.ErrInvalidDomain):
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidDomain, err.Error())
	case errors.Is(err, blocker.ErrNoDomains):
		return protocol.NewErrorResponse(protocol.ErrCodeEmptyBlocklist, err.Error())
	case errors.Is(err, hosts.ErrPrivilegedWriteFailed), errors.Is(err, hosts.ErrSafetyCheckFailed):
		return protocol.NewErrorResponse(protocol.ErrCodePermissionError, err.Error())
	default:
		return protocol.NewErrorResponse(protocol.ErrCodeInternalError, err.Error())
	}
}
