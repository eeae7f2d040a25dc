// Package s2s is the trusted rail: a second line-framed listener where peer
// services enqueue engine commands. Every frame is authenticated with an
// HMAC over its content; nothing on this port touches game state directly.
package s2s

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rdearman/twclone-sub004/internal/store"
)

const maxFrameBytes = 256 * 1024

type frame struct {
	KeyID   string          `json:"key_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	IdemKey string          `json:"idem_key"`
	DueAt   int64           `json:"due_at,omitempty"`
	HMAC    string          `json:"hmac"`
}

type reply struct {
	Status    string `json:"status"`
	CmdID     int64  `json:"cmd_id,omitempty"`
	DueAt     int64  `json:"due_at,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Server struct {
	St  *store.Store
	Log zerolog.Logger

	ln      net.Listener
	running atomic.Bool
	wg      sync.WaitGroup
}

func New(st *store.Store, log zerolog.Logger) *Server {
	return &Server{St: st, Log: log.With().Str("sys", "s2s").Logger()}
}

func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.running.Store(true)
	s.Log.Info().Str("addr", ln.Addr().String()).Msg("s2s listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			s.Log.Warn().Err(err).Msg("s2s accept failed")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) Shutdown() {
	s.running.Store(false)
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	log := s.Log.With().Str("peer", conn.RemoteAddr().String()).Logger()

	enc := json.NewEncoder(conn)
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), maxFrameBytes)
	for s.running.Load() && sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := enc.Encode(s.handleFrame(line, log)); err != nil {
			return
		}
	}
}

func (s *Server) handleFrame(line []byte, log zerolog.Logger) *reply {
	var f frame
	if err := json.Unmarshal(line, &f); err != nil {
		return &reply{Status: "error", Error: "malformed frame"}
	}
	if f.Type == "" || f.IdemKey == "" || f.KeyID == "" {
		return &reply{Status: "error", Error: "key_id, type and idem_key are required"}
	}

	secret, err := s.St.S2SSecret(f.KeyID)
	if err == sql.ErrNoRows {
		log.Warn().Str("key_id", f.KeyID).Msg("unknown s2s key")
		return &reply{Status: "error", Error: "unknown key"}
	}
	if err != nil {
		log.Error().Err(err).Msg("s2s key lookup failed")
		return &reply{Status: "error", Error: "storage error"}
	}
	if !verify(secret, &f) {
		log.Warn().Str("key_id", f.KeyID).Str("type", f.Type).Msg("bad s2s signature")
		return &reply{Status: "error", Error: "bad signature"}
	}

	due := f.DueAt
	if due == 0 {
		due = time.Now().Unix()
	}
	payload := string(f.Payload)
	if payload == "" {
		payload = "{}"
	}
	res, err := s.St.DB.Exec(`
		INSERT OR IGNORE INTO engine_commands (type, payload, status, due_at, idem_key)
		VALUES (?, ?, 'ready', ?, ?)`, f.Type, payload, due, f.IdemKey)
	if err != nil {
		log.Error().Err(err).Msg("s2s enqueue failed")
		return &reply{Status: "error", Error: "storage error"}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Same idem_key seen before: answer with the original command.
		var cmdID, dueAt int64
		if err := s.St.DB.QueryRow(`SELECT id, due_at FROM engine_commands WHERE idem_key = ?`, f.IdemKey).
			Scan(&cmdID, &dueAt); err != nil {
			log.Error().Err(err).Msg("s2s duplicate lookup failed")
			return &reply{Status: "error", Error: "storage error"}
		}
		return &reply{Status: "ok", CmdID: cmdID, DueAt: dueAt, Duplicate: true}
	}
	cmdID, err := res.LastInsertId()
	if err != nil {
		return &reply{Status: "error", Error: "storage error"}
	}
	log.Info().Str("type", f.Type).Int64("cmd_id", cmdID).Msg("command enqueued")
	return &reply{Status: "ok", CmdID: cmdID, DueAt: due}
}

// verify checks the frame signature: HMAC-SHA256 over type|payload|idem_key,
// hex encoded, compared in constant time.
func verify(secret string, f *frame) bool {
	mac, err := hex.DecodeString(f.HMAC)
	if err != nil {
		return false
	}
	return hmac.Equal(mac, Sign(secret, f.Type, f.Payload, f.IdemKey))
}

// Sign computes the frame MAC. Exported so peer services and tests build
// frames the same way the listener checks them.
func Sign(secret, typ string, payload []byte, idemKey string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(typ))
	h.Write([]byte{'|'})
	h.Write(payload)
	h.Write([]byte{'|'})
	h.Write([]byte(idemKey))
	return h.Sum(nil)
}
