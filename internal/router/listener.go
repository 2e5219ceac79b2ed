package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/namith-arrellio/fs-ec2/internal/directory"
	"github.com/namith-arrellio/fs-ec2/internal/esl"
)

// Listener accepts per-call control connections from the switch and runs a
// session goroutine for each. Concurrency is bounded: a semaphore slot is
// taken before each accept, so connections beyond the bound queue in the
// kernel backlog instead of reaching a session.
type Listener struct {
	addr    string
	dir     *directory.Directory
	records RecordWriter
	logger  *slog.Logger

	sem    chan struct{}
	active atomic.Int64

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewListener creates a listener for addr admitting at most maxSessions
// concurrent sessions.
func NewListener(addr string, maxSessions int, dir *directory.Directory, records RecordWriter, logger *slog.Logger) *Listener {
	if maxSessions < 1 {
		maxSessions = 1
	}
	return &Listener{
		addr:    addr,
		dir:     dir,
		records: records,
		logger:  logger.With("component", "listener"),
		sem:     make(chan struct{}, maxSessions),
	}
}

// Start binds the control port and begins accepting in the background.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", l.addr, err)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.logger.Info("control listener started", "addr", ln.Addr().String())

	l.wg.Add(1)
	go l.acceptLoop(ctx, ln)
	return nil
}

// Addr returns the bound address, or empty before Start.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// ActiveSessions reports the number of sessions currently running.
func (l *Listener) ActiveSessions() int {
	return int(l.active.Load())
}

// Stop closes the control port and waits for in-flight sessions to finish.
// Live sessions are unwound by the context given to Start.
func (l *Listener) Stop() {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	l.wg.Wait()
	l.logger.Info("control listener stopped")
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case l.sem <- struct{}{}:
		}

		conn, err := ln.Accept()
		if err != nil {
			<-l.sem
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("accept failed", "error", err)
			continue
		}

		l.active.Add(1)
		l.wg.Add(1)
		go l.serve(ctx, conn)
	}
}

func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer func() {
		l.active.Add(-1)
		<-l.sem
		l.wg.Done()
	}()

	// Unblock the session's reads if the process is shutting down.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	l.logger.Debug("control connection accepted", "remote", conn.RemoteAddr().String())

	sess := NewSession(esl.NewOutbound(conn, l.logger), l.dir, l.records, l.logger)
	sess.Run(ctx)
}
