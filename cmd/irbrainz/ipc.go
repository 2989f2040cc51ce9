package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "press", "data": {"trigger": "tv_power"}}
//                   {"type": "release", "data": {"trigger": "volume_up"}}
//                   {"type": "cancel"}
//                   {"type": "status"}
//   - Server responds: {"status": "ok", "data": ...} or {"status": "error", "error": "msg"}
//
// press/release/cancel are queued into the dispatcher loop and never block;
// status is answered from the dispatcher snapshot.
// ============================================================================

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string          `json:"status"`          // "ok" or "error"
	Error  string          `json:"error,omitempty"` // error message if status == "error"
	Data   json.RawMessage `json:"data,omitempty"`
}

// IPCServer accepts control connections on a Unix socket.
type IPCServer struct {
	socketPath string
	events     chan<- Event
	snapshot   func() DispatcherSnapshot
	logger     *slog.Logger
}

func NewIPCServer(socketPath string, events chan<- Event, snapshot func() DispatcherSnapshot, logger *slog.Logger) *IPCServer {
	return &IPCServer{
		socketPath: socketPath,
		events:     events,
		snapshot:   snapshot,
		logger:     logger,
	}
}

// Run listens until ctx is canceled, then closes the listener and removes the socket.
func (s *IPCServer) Run(ctx context.Context) error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(s.socketPath)

	if err := os.Chmod(s.socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.logger.Info("IPC listening", "socket", s.socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.logger.Debug("IPC listener closed")
				return nil
			}
			s.logger.Error("IPC accept error", "error", err)
			continue
		}

		go s.handleConnection(ctx, conn)
	}
}

// handleConnection handles a single IPC connection
func (s *IPCServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.logger.Debug("IPC connection")

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.logger.Debug("IPC received", "line", line)

		resp := s.handleLine([]byte(line))
		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	s.logger.Debug("IPC connection closed")
}

func (s *IPCServer) handleLine(line []byte) IPCResponse {
	var env EventEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return ipcError(fmt.Errorf("parse request: %w", err))
	}

	if env.Type == requestStatus {
		data, err := json.Marshal(s.snapshot())
		if err != nil {
			return ipcError(fmt.Errorf("marshal status: %w", err))
		}
		return IPCResponse{Status: "ok", Data: data}
	}

	ev, err := env.Event()
	if err != nil {
		return ipcError(fmt.Errorf("parse event: %w", err))
	}

	select {
	case s.events <- ev:
		return IPCResponse{Status: "ok"}
	default:
		return ipcError(errors.New("event queue full"))
	}
}

func ipcError(err error) IPCResponse {
	return IPCResponse{Status: "error", Error: err.Error()}
}

// ============================================================================
// IPC Client
// ============================================================================

// SendIPCRequest sends one request envelope and returns the decoded response.
func SendIPCRequest(socketPath string, payload []byte) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(payload))); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}

// SendIPCEvent sends an event to the daemon via IPC.
func SendIPCEvent(socketPath string, ev Event) error {
	data, err := MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = SendIPCRequest(socketPath, data)
	return err
}
