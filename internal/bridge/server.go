// Package bridge exposes a small tool-call RPC surface to external agents
// over a local TCP endpoint speaking line-delimited JSON-RPC 2.0 (MCP). One
// bridge serves every run of an orchestrator process; individual calls are
// authorized by a per-run token carried in the tool arguments.
package bridge

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
)

// protocolVersion is the MCP protocol revision the bridge speaks.
const protocolVersion = "2024-11-05"

// RunGrant authorizes one agent run to call bridge tools.
type RunGrant struct {
	Token       string
	ProjectPath string
	FeatureID   string
	// AllowPlanTools exposes the plan-update tool to this run.
	AllowPlanTools bool
	// AllowFileTools exposes the file-attach tool to this run.
	AllowFileTools bool
}

// Server is the tool-call bridge. Address and lifetime span many runs; the
// grant table changes per run.
type Server struct {
	service FeatureService

	mu       sync.Mutex
	listener net.Listener
	port     int
	running  bool
	cancel   context.CancelFunc
	grants   map[string]*RunGrant
}

// NewServer creates a bridge over the given feature service.
func NewServer(service FeatureService) *Server {
	return &Server{
		service: service,
		grants:  make(map[string]*RunGrant),
	}
}

// generateToken creates a cryptographically random 32-byte hex token.
func generateToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

// RegisterRun issues a token for one agent run. The grant stays valid until
// ReleaseRun.
func (s *Server) RegisterRun(grant RunGrant) *RunGrant {
	grant.Token = generateToken()
	g := &grant
	s.mu.Lock()
	s.grants[g.Token] = g
	s.mu.Unlock()
	return g
}

// ReleaseRun revokes a run token.
func (s *Server) ReleaseRun(token string) {
	s.mu.Lock()
	delete(s.grants, token)
	s.mu.Unlock()
}

func (s *Server) grantFor(token string) *RunGrant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants[token]
}

// Start binds a loopback TCP port and serves connections until ctx is
// cancelled or Stop is called. It returns once the listener is ready;
// serving continues in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("bridge already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("listen on loopback: %w", err)
	}

	addr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("unexpected listener address type %T", listener.Addr())
	}

	s.listener = listener
	s.port = addr.Port
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	go s.serve(ctx, listener)
	return nil
}

func (s *Server) serve(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("[bridge] accept: %v", err)
				continue
			}
		}
		go s.handleConnection(ctx, conn)
	}
}

// Stop shuts the bridge down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			return fmt.Errorf("close listener: %w", err)
		}
	}
	return nil
}

// Addr returns the bridge endpoint, e.g. "127.0.0.1:39123".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ""
	}
	return fmt.Sprintf("127.0.0.1:%d", s.port)
}

// handleConnection processes line-delimited JSON-RPC requests on one
// connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				log.Printf("[bridge] read: %v", err)
			}
			return
		}

		var req jsonrpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.sendError(conn, nil, -32700, "Parse error", err.Error())
			continue
		}
		s.handleRequest(conn, &req)
	}
}

func (s *Server) handleRequest(conn net.Conn, req *jsonrpcRequest) {
	switch req.Method {
	case "initialize":
		s.sendResult(conn, req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "automaker", "version": "1.0.0"},
		})
	case "notifications/initialized":
		// Notifications get no response.
	case "tools/list":
		s.sendResult(conn, req.ID, map[string]any{"tools": toolDescriptors()})
	case "tools/call":
		s.handleToolsCall(conn, req)
	default:
		s.sendError(conn, req.ID, -32601, "Method not found", req.Method)
	}
}

func (s *Server) handleToolsCall(conn net.Conn, req *jsonrpcRequest) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(conn, req.ID, -32602, "Invalid params", err.Error())
		return
	}

	token, _ := params.Arguments["run_token"].(string)
	grant := s.grantFor(token)
	if grant == nil {
		s.sendToolError(conn, req.ID, "unauthorized: invalid or expired run token")
		return
	}

	text, err := s.callTool(params.Name, grant, params.Arguments)
	if err != nil {
		// Tool failures go back as tool results, not JSON-RPC errors, so
		// the agent sees them.
		s.sendToolError(conn, req.ID, err.Error())
		return
	}
	s.sendResult(conn, req.ID, toolResult(text, false))
}

func toolResult(text string, isError bool) map[string]any {
	result := map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	}
	if isError {
		result["isError"] = true
	}
	return result
}

func (s *Server) sendToolError(conn net.Conn, id any, msg string) {
	s.sendResult(conn, id, toolResult("Error: "+msg, true))
}

// JSON-RPC message types.

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonrpcError `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (s *Server) sendResult(conn net.Conn, id, result any) {
	s.send(conn, &jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) sendError(conn net.Conn, id any, code int, message, data string) {
	s.send(conn, &jsonrpcResponse{JSONRPC: "2.0", ID: id, Error: &jsonrpcError{Code: code, Message: message, Data: data}})
}

func (s *Server) send(conn net.Conn, resp *jsonrpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("[bridge] marshal response: %v", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		log.Printf("[bridge] write response: %v", err)
	}
}
