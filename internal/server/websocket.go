package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"photosweep/internal/models"
	"photosweep/internal/scan"
	libsync "photosweep/internal/sync"
)

const writeWait = 10 * time.Second

// clientMessage is sent by the browser
type clientMessage struct {
	Type string          `json:"type"` // ping, scan or cancel
	Mode models.ScanMode `json:"mode,omitempty"`
}

// serverMessage is sent to the browser
type serverMessage struct {
	Type   string             `json:"type"` // connected, pong, sync, update or error
	Sync   *libsync.Report    `json:"sync,omitempty"`
	Update *models.ScanUpdate `json:"update,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// wsConn serializes writes to one websocket
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (ws *wsConn) send(msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ws := &wsConn{conn: conn}

	// Track active client
	s.mu.Lock()
	s.activeClients++
	s.lastActivity = time.Now()
	s.mu.Unlock()

	// Scans started by this client stop when it disconnects
	ctx, cancel := context.WithCancel(context.Background())
	var (
		passMu sync.Mutex
		pass   *scan.Pass
	)

	defer func() {
		cancel()
		conn.Close()
		s.mu.Lock()
		s.activeClients--
		s.mu.Unlock()
	}()

	ws.send(serverMessage{Type: "connected"})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		s.recordActivity()

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ws.send(serverMessage{Type: "error", Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "ping":
			ws.send(serverMessage{Type: "pong"})
		case "cancel":
			passMu.Lock()
			if pass != nil {
				pass.Cancel()
			}
			passMu.Unlock()
		case "scan":
			mode := msg.Mode
			if mode == "" {
				mode = models.ScanIncremental
			}
			go func() {
				s.streamScan(ctx, ws, mode, func(p *scan.Pass) {
					passMu.Lock()
					pass = p
					passMu.Unlock()
				})
			}()
		default:
			ws.send(serverMessage{Type: "error", Error: "unknown message type " + msg.Type})
		}
	}
}

// streamScan syncs the library, runs one pass and forwards every update.
// Only one sync and pass may write to the cache at a time.
func (s *Server) streamScan(ctx context.Context, ws *wsConn, mode models.ScanMode, started func(*scan.Pass)) {
	if !s.writer.TryLock() {
		ws.send(serverMessage{Type: "error", Error: errBusy.Error()})
		return
	}
	defer s.writer.Unlock()

	report, err := s.syncer.Sync(ctx)
	if err != nil {
		ws.send(serverMessage{Type: "error", Error: err.Error()})
		return
	}
	ws.send(serverMessage{Type: "sync", Sync: &report})

	p := s.orch.Start(ctx, s.options(mode))
	started(p)

	for u := range p.Updates() {
		msg := serverMessage{Type: "update", Update: &u}
		if u.Err != nil && u.Type == models.UpdateFailed {
			msg.Error = u.Err.Error()
		}
		if err := ws.send(msg); err != nil {
			// Hold the writer slot until the pass has let go of the cache
			p.Close()
			p.Wait()
			return
		}
	}
}
