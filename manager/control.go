package manager

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// Control socket message types
const (
	msgStatus      = "status"
	msgExchangeRun = "exchange_run"

	controlIOTimeout = 10 * time.Second
)

// ErrDaemonUnreachable wraps control socket dial failures so callers can
// map them to an outage rather than a bad request
var ErrDaemonUnreachable = errors.New("daemon unreachable")

// Request is one line of JSON sent to the control socket
type Request struct {
	Type       string `json:"type"`
	ExchangeID int64  `json:"exchange_id,omitempty"`
}

// Response is the single JSON line written back for a Request
type Response struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	RunID string `json:"run_id,omitempty"`
	Stats *Stats `json:"stats,omitempty"`
}

// controlServer answers one request per connection over plain TCP. The
// protocol is a single newline-terminated JSON object each way, simple
// enough to drive from netcat when debugging a live daemon.
type controlServer struct {
	mgr *Manager
	ln  net.Listener
	log zerolog.Logger
}

func newControlServer(m *Manager, addr string, log zerolog.Logger) (*controlServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control socket listen: %w", err)
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("control socket listening")
	return &controlServer{mgr: m, ln: ln, log: log}, nil
}

func (s *controlServer) addr() string {
	return s.ln.Addr().String()
}

func (s *controlServer) close() {
	s.ln.Close()
}

func (s *controlServer) serve(shutdown <-chan struct{}) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("control accept failed")
			continue
		}
		go s.handle(conn)
	}
}

func (s *controlServer) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(controlIOTimeout))

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}
	var req Request
	resp := Response{}
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		resp.Error = "malformed request"
	} else {
		resp = s.dispatch(req)
	}
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Warn().Err(err).Msg("control response write failed")
	}
}

func (s *controlServer) dispatch(req Request) Response {
	switch req.Type {
	case msgStatus:
		stats := s.mgr.Stats()
		return Response{Type: req.Type, OK: true, Stats: &stats}
	case msgExchangeRun:
		if req.ExchangeID <= 0 {
			return Response{Type: req.Type, Error: "exchange_id required"}
		}
		ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
		defer cancel()
		runID, err := s.mgr.RunExchange(ctx, req.ExchangeID)
		if err != nil {
			return Response{Type: req.Type, Error: err.Error()}
		}
		return Response{Type: req.Type, OK: true, RunID: runID}
	default:
		return Response{Type: req.Type, Error: "unknown request type"}
	}
}

// ControlAddr reports the bound control socket address, which differs from
// the configured one when the port was 0
func (m *Manager) ControlAddr() string {
	if m.control == nil {
		return ""
	}
	return m.control.addr()
}

// Client talks to a running daemon's control socket
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient returns a control socket client for addr
func NewClient(addr string) *Client {
	return &Client{addr: addr, timeout: controlIOTimeout}
}

// Status fetches the daemon's liveness counters
func (c *Client) Status(ctx context.Context) (*Stats, error) {
	resp, err := c.roundTrip(ctx, Request{Type: msgStatus})
	if err != nil {
		return nil, err
	}
	if resp.Stats == nil {
		return nil, errors.New("daemon returned no stats")
	}
	return resp.Stats, nil
}

// RunExchange asks the daemon to dispatch a fetch for exchangeID now,
// returning the run ID it was queued under
func (c *Client) RunExchange(ctx context.Context, exchangeID int64) (string, error) {
	resp, err := c.roundTrip(ctx, Request{Type: msgExchangeRun, ExchangeID: exchangeID})
	if err != nil {
		return "", err
	}
	return resp.RunID, nil
}

func (c *Client) roundTrip(ctx context.Context, req Request) (*Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnreachable, io.EOF)
	}
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decoding daemon response: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("daemon: %s", resp.Error)
	}
	return &resp, nil
}
