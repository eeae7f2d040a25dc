// Package server runs the client-facing TCP listener: newline-framed JSON
// envelopes in, one envelope out per request, with rate limiting, session
// auth, and idempotency enforced ahead of the command handlers.
package server

import (
	"bufio"
	"bytes"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"lukechampine.com/blake3"

	"github.com/rdearman/twclone-sub004/internal/auth"
	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/game"
	"github.com/rdearman/twclone-sub004/internal/proto"
	"github.com/rdearman/twclone-sub004/internal/store"
)

// MaxLineBytes bounds a single request line. Anything longer is a protocol
// violation and drops the connection.
const MaxLineBytes = 256 * 1024

type Server struct {
	St   *store.Store
	Game *game.Game
	Cast *bus.Broadcaster
	Log  zerolog.Logger

	ln      net.Listener
	running atomic.Bool
	wg      sync.WaitGroup
}

func New(st *store.Store, g *game.Game, cast *bus.Broadcaster, log zerolog.Logger) *Server {
	return &Server{St: st, Game: g, Cast: cast, Log: log.With().Str("sys", "server").Logger()}
}

// ListenAndServe blocks on the accept loop until Shutdown closes the
// listener.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.ln = ln
	s.running.Store(true)
	s.Log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			s.Log.Warn().Err(err).Msg("accept failed")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Shutdown stops accepting and waits for in-flight workers to drain.
func (s *Server) Shutdown() {
	s.running.Store(false)
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	client := bus.NewClient(conn, conn.RemoteAddr().String())
	s.Cast.Register(client)
	defer s.Cast.Unregister(client)

	limiter := rate.NewLimiter(
		rate.Limit(s.St.ConfigInt(s.St.DB, "rate_limit", 10)),
		int(s.St.ConfigInt(s.St.DB, "rate_burst", 20)))

	log := s.Log.With().Str("peer", client.Peer).Logger()
	log.Debug().Msg("connected")

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), MaxLineBytes)
	for s.running.Load() && sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		resp := s.dispatch(client, limiter, line, log)
		if err := client.Send(resp); err != nil {
			log.Debug().Err(err).Msg("write failed, dropping connection")
			return
		}
	}
	if err := sc.Err(); err != nil {
		log.Debug().Err(err).Msg("read ended")
	}
	log.Debug().Msg("disconnected")
}

// dispatch runs the gate order for one request: framing, rate limit, auth,
// idempotency, then the handler. Exactly one response comes back.
func (s *Server) dispatch(c *bus.Client, limiter *rate.Limiter, line []byte, log zerolog.Logger) (resp *proto.Response) {
	var req proto.Request
	if err := json.Unmarshal(line, &req); err != nil {
		return proto.Errorf(proto.ErrSerialization, "malformed request: %v", err)
	}
	defer func() {
		resp.RequestID = req.RequestID
	}()
	if req.Command == "" {
		return proto.Errorf(proto.ErrSerialization, "missing command")
	}

	if !limiter.Allow() {
		return proto.Refusef(proto.RefRateLimited, "slow down")
	}

	cmd, known := s.Game.Lookup(req.Command)
	if !known {
		return proto.Errorf(proto.ErrUnknownCommand, "unknown command %q", req.Command)
	}

	if cmd.NeedsAuth && c.PlayerID() == 0 {
		if id := s.resolveSession(&req); id != 0 {
			c.SetPlayerID(id)
		} else {
			return proto.Refusef(proto.RefNotAuthenticated, "login first")
		}
	}

	var fp string
	if req.IdempotencyKey != "" {
		fp = requestFingerprint(&req)
		if stored, gate := s.idempotencyGate(req.IdempotencyKey, req.Command, fp); gate != nil {
			return gate
		} else if stored != nil {
			stored.RequestID = "" // deferred echo fills in this request's id
			return stored
		}
	}

	resp = s.invoke(cmd, c, &req, log)

	if req.IdempotencyKey != "" {
		s.idempotencyFinish(req.IdempotencyKey, resp, log)
	}
	return resp
}

// invoke calls the handler with a panic fence: a crashing command answers
// ERR_SERVER_ERROR instead of taking the process down.
func (s *Server) invoke(cmd game.Command, c *bus.Client, req *proto.Request, log zerolog.Logger) (resp *proto.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("command", req.Command).Msg("handler panicked")
			resp = proto.Errorf(proto.ErrServerError, "internal error")
		}
	}()

	resp, err := cmd.Fn(s.Game, c, req)
	if err != nil {
		var refusal *proto.Refusal
		if errors.As(err, &refusal) {
			return refusal.Envelope()
		}
		log.Error().Err(err).Str("command", req.Command).Msg("handler failed")
		return proto.Errorf(proto.ErrDB, "storage error")
	}
	return resp
}

// resolveSession pulls data.session out of the request and maps it to a
// player. 0 means no usable session.
func (s *Server) resolveSession(req *proto.Request) int64 {
	var in struct {
		Session string `json:"session"`
	}
	if len(req.Data) == 0 {
		return 0
	}
	if err := json.Unmarshal(req.Data, &in); err != nil || in.Session == "" {
		return 0
	}
	id, err := auth.Resolve(s.St.DB, in.Session)
	if err != nil {
		s.Log.Error().Err(err).Msg("session resolve failed")
		return 0
	}
	return id
}

func requestFingerprint(req *proto.Request) string {
	h := blake3.New(32, nil)
	h.Write([]byte(req.Command))
	h.Write([]byte{0})
	h.Write(req.Data)
	return hex.EncodeToString(h.Sum(nil))
}

// inProgressTTL bounds how long an unfinished claim blocks a key. A claim
// older than this belongs to a request that died before finishing and is up
// for grabs again.
const inProgressTTL = 60 * time.Second

// idempotencyGate claims the key. Returns the stored response for a finished
// duplicate, a refusal envelope when the key is contested, or (nil, nil)
// when the caller now owns the key. Only successful responses are ever kept
// under a key; a failed attempt releases its claim so the client may retry.
func (s *Server) idempotencyGate(key, command, fp string) (*proto.Response, *proto.Response) {
	now := time.Now().Unix()
	res, err := s.St.DB.Exec(`
		INSERT OR IGNORE INTO idempotency (key, command, req_fp, status, created_at)
		VALUES (?, ?, ?, 'in_progress', ?)`, key, command, fp, now)
	if err != nil {
		s.Log.Error().Err(err).Msg("idempotency claim failed")
		return nil, proto.Errorf(proto.ErrDB, "storage error")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil, nil
	}

	var status, storedFp string
	var raw sql.NullString
	err = s.St.DB.QueryRow(`SELECT status, req_fp, response FROM idempotency WHERE key = ?`, key).
		Scan(&status, &storedFp, &raw)
	if err != nil {
		s.Log.Error().Err(err).Msg("idempotency lookup failed")
		return nil, proto.Errorf(proto.ErrDB, "storage error")
	}
	if storedFp != fp {
		return nil, proto.Refusef(proto.RefConflict, "idempotency key reused with a different request")
	}
	if status != "done" || !raw.Valid {
		// A stale claim from a crashed request can be re-taken.
		res, err := s.St.DB.Exec(`
			UPDATE idempotency SET created_at = ?
			 WHERE key = ? AND status = 'in_progress' AND created_at <= ?`,
			now, key, now-int64(inProgressTTL.Seconds()))
		if err != nil {
			s.Log.Error().Err(err).Msg("idempotency reclaim failed")
			return nil, proto.Errorf(proto.ErrDB, "storage error")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil, nil
		}
		return nil, proto.Refusef(proto.RefAlreadyInProgress, "request is already in flight")
	}
	var stored proto.Response
	if err := json.Unmarshal([]byte(raw.String), &stored); err != nil {
		s.Log.Error().Err(err).Msg("stored idempotent response unreadable")
		return nil, proto.Errorf(proto.ErrSerialization, "stored response unreadable")
	}
	return &stored, nil
}

// idempotencyFinish settles the claim. A successful response is recorded for
// replay; anything else drops the claim so the same key can try again.
func (s *Server) idempotencyFinish(key string, resp *proto.Response, log zerolog.Logger) {
	if resp.Status != proto.StatusOK {
		if _, err := s.St.DB.Exec(`DELETE FROM idempotency WHERE key = ? AND status = 'in_progress'`, key); err != nil {
			log.Error().Err(err).Msg("idempotency claim release failed")
		}
		return
	}
	buf, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("idempotent response marshal failed")
		return
	}
	if _, err := s.St.DB.Exec(`UPDATE idempotency SET status = 'done', response = ? WHERE key = ?`,
		string(buf), key); err != nil {
		log.Error().Err(err).Msg("idempotent response store failed")
	}
}
