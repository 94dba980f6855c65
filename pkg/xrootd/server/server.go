// Package server ties the protocol layers together into a runnable TCP
// listener: for each accepted connection it validates the initial
// handshake, builds the Link/Session/Framer triple, and loops reading
// framed requests into dispatch.Dispatch until the connection closes.
//
// Grounded on the teacher's internal/protocol/portmap.Server accept-loop
// idiom (a shutdown channel closed once, a sync.WaitGroup tracking
// in-flight connections, one goroutine per accepted connection) adapted
// from a stateless RPC server to XRootD's persistent, stateful Link.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xrootd-go/xrootd-core/internal/logger"
	"github.com/xrootd-go/xrootd-core/internal/telemetry"
	"github.com/xrootd-go/xrootd-core/pkg/bufpool"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/dispatch"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/framer"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/link"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/monitor"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/session"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/wire"
)

// Timeouts bounds how long a connection may sit idle, how long a single
// request read may take, and how long the client has to complete the
// initial handshake (spec.md §4.1).
type Timeouts struct {
	Idle      time.Duration
	Read      time.Duration
	Handshake time.Duration
}

// Config holds everything the server needs beyond the Dispatcher itself.
type Config struct {
	Address    string
	Port       int
	Timeouts   Timeouts
	SendfileOK bool
}

// Server accepts XRootD connections and dispatches their requests against a
// shared Dispatcher.
type Server struct {
	cfg      Config
	dispatch *dispatch.Dispatcher
	pool     *bufpool.Pool
	mon      monitor.Monitor

	listener     net.Listener
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New returns a Server ready to Serve.
func New(cfg Config, d *dispatch.Dispatcher, pool *bufpool.Pool, mon monitor.Monitor) *Server {
	if mon == nil {
		mon = monitor.NoOp{}
	}
	return &Server{
		cfg:      cfg,
		dispatch: d,
		pool:     pool,
		mon:      mon,
		shutdown: make(chan struct{}),
	}
}

// Serve listens on cfg.Address:cfg.Port and blocks accepting connections
// until ctx is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = ln

	logger.Info("xrootd server listening", "address", addr)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConn(ctx, c)
		}(conn)
	}
}

// Stop closes the listener and every accepted connection is left to drain
// on its own loop; Serve returns once all connection goroutines exit.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

// Addr returns the bound listener address, or "" if not yet listening.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleConn validates the handshake, then loops reading framed requests
// until the link closes or a read/protocol error ends the connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()

	if s.cfg.Timeouts.Handshake > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Timeouts.Handshake))
	}
	var hbuf [wire.HandshakeRequestSize]byte
	if _, err := io.ReadFull(conn, hbuf[:]); err != nil {
		logger.Debug("handshake read failed", "client", remote, "error", err)
		_ = conn.Close()
		return
	}
	if err := wire.ValidateHandshake(hbuf[:]); err != nil {
		logger.Debug("handshake rejected", "client", remote, "error", err)
		_ = conn.Close()
		return
	}

	lnk := link.NewNetLink(conn, s.cfg.SendfileOK)
	if _, err := lnk.Send([][]byte{wire.EncodeHandshakeReply(s.dispatch.Cfg.IsLoadBalancer)}); err != nil {
		logger.Debug("handshake reply failed", "client", remote, "error", err)
		lnk.Close()
		return
	}

	sess := session.New(uuid.NewString(), s.mon)
	fr := framer.New(lnk, s.cfg.SendfileOK)

	logger.Info("connection accepted", "client", remote, "session_id", sess.ID)
	defer func() {
		sess.Teardown()
		lnk.Close()
		logger.Info("connection closed", "client", remote, "session_id", sess.ID)
	}()

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}
		if s.cfg.Timeouts.Idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Timeouts.Idle))
		}

		var hb [wire.RequestHeaderSize]byte
		if _, err := io.ReadFull(conn, hb[:]); err != nil {
			if err != io.EOF {
				logger.Debug("request header read failed", "client", remote, "session_id", sess.ID, "error", err)
			}
			return
		}
		h, err := wire.DecodeRequestHeader(hb[:])
		if err != nil {
			logger.Debug("malformed request header", "client", remote, "session_id", sess.ID, "error", err)
			return
		}

		if s.cfg.Timeouts.Read > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Timeouts.Read))
		}
		payload := make([]byte, h.Dlen)
		if h.Dlen > 0 {
			if _, err := io.ReadFull(conn, payload); err != nil {
				logger.Debug("request payload read failed", "client", remote, "session_id", sess.ID, "error", err)
				return
			}
		}

		reqCtx, span := telemetry.StartSpan(ctx, "xrootd.dispatch")
		if err := dispatch.Dispatch(reqCtx, s.dispatch, sess, fr, lnk, h, payload); err != nil {
			telemetry.RecordError(reqCtx, err)
			span.End()
			logger.Error("dispatch failed, closing connection", "client", remote, "session_id", sess.ID, "error", err)
			return
		}
		span.End()
	}
}
