// Package supervisor owns process lifetime: it starts the dispatcher and the
// plugin consumers once, serves HTTP, and in streaming mode keeps an RTM
// session alive by restarting the reader/heartbeat pair whenever either
// stops.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/gtmanfred/slackmgmt/internal/dispatch"
	"github.com/gtmanfred/slackmgmt/internal/metrics"
	"github.com/gtmanfred/slackmgmt/internal/plugins"
	"github.com/gtmanfred/slackmgmt/internal/queue"
	"github.com/gtmanfred/slackmgmt/internal/rtm"
	"github.com/gtmanfred/slackmgmt/pkg/sdk"
	"go.uber.org/zap"
)

// Stream is the streaming transport. *rtm.Client implements it.
type Stream interface {
	Connect(ctx context.Context) (*websocket.Conn, error)
	Run(ctx context.Context, conn *websocket.Conn, into *queue.Queue[sdk.Event]) error
}

// Heartbeat watches a session. *rtm.Monitor implements it.
type Heartbeat interface {
	Run(ctx context.Context) error
}

type Options struct {
	// FailFast makes a rejected handshake on the first attempt fatal.
	FailFast       bool
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	TLSCert        string // both set: serve HTTPS
	TLSKey         string
}

type Supervisor struct {
	dispatcher *dispatch.Dispatcher
	plugins    *plugins.Manager
	httpSrv    *http.Server
	stream     Stream
	heartbeat  Heartbeat
	handle     *rtm.Handle
	opts       Options
	log        *zap.Logger
	metrics    *metrics.Metrics
}

// New builds a supervisor. stream, heartbeat and handle are nil in webhook
// mode; httpSrv may be nil when no listener is wanted.
func New(d *dispatch.Dispatcher, pm *plugins.Manager, httpSrv *http.Server, stream Stream, hb Heartbeat, handle *rtm.Handle, opts Options, log *zap.Logger, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		dispatcher: d,
		plugins:    pm,
		httpSrv:    httpSrv,
		stream:     stream,
		heartbeat:  hb,
		handle:     handle,
		opts:       opts,
		log:        log.With(zap.String("component", "supervisor")),
		metrics:    m,
	}
}

// Run blocks until ctx is cancelled or a fatal error occurs, then shuts
// everything down.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	s.plugins.Start(ctx, s.dispatcher)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.dispatcher.Run(ctx); err != nil {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	if s.httpSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.serveHTTP(); err != nil {
				errCh <- fmt.Errorf("http: %w", err)
			}
		}()
	}

	if s.stream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.runStreaming(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		s.log.Error("supervisor stopping", zap.Error(err))
	}

	cancel()
	if s.httpSrv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := s.httpSrv.Shutdown(shutdownCtx); serr != nil {
			s.log.Warn("http shutdown", zap.Error(serr))
		}
		cancelShutdown()
	}
	wg.Wait()
	s.plugins.Wait()
	return err
}

func (s *Supervisor) serveHTTP() error {
	s.log.Info("http listening", zap.String("addr", s.httpSrv.Addr))
	var err error
	if s.opts.TLSCert != "" && s.opts.TLSKey != "" {
		err = s.httpSrv.ListenAndServeTLS(s.opts.TLSCert, s.opts.TLSKey)
	} else {
		err = s.httpSrv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// runStreaming restarts sessions until ctx is cancelled. Attempts are
// unlimited; the delay between them backs off exponentially and resets once
// a session gets past the handshake.
func (s *Supervisor) runStreaming(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.BackoffInitial
	b.MaxInterval = s.opts.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()

	for attempt := 1; ; attempt++ {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		var ce *rtm.ConnectionError
		if errors.As(err, &ce) && attempt == 1 && s.opts.FailFast {
			return err
		}
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		s.log.Warn("RTM session ended, reconnecting",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait))
		if s.metrics != nil {
			s.metrics.Reconnects.Inc()
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// session runs one connect/read loop alongside the heartbeat. Whichever
// finishes first cancels the other; both have returned and the handle is
// cleared before session returns. connected reports whether the handshake
// and dial succeeded.
func (s *Supervisor) session(parent context.Context) (connected bool, err error) {
	id := uuid.NewString()
	log := s.log.With(zap.String("session", id))

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	type result struct {
		from string
		err  error
	}
	results := make(chan result, 2)
	var connOK bool

	read := func() error {
		conn, err := s.stream.Connect(ctx)
		if err != nil {
			return err
		}
		connOK = true
		defer conn.Close()
		if err := s.handle.Set(conn); err != nil {
			return err
		}
		defer s.handle.Clear(conn)
		log.Info("RTM session started")
		return s.stream.Run(ctx, conn, s.dispatcher.Inbound())
	}
	go func() {
		results <- result{"reader", read()}
	}()
	go func() {
		results <- result{"heartbeat", s.heartbeat.Run(ctx)}
	}()

	first := <-results
	cancel()
	second := <-results
	log.Debug("RTM session stopped",
		zap.String("first", first.from),
		zap.NamedError("first_error", first.err),
		zap.NamedError("second_error", second.err))

	err = first.err
	if err == nil {
		err = second.err
	}
	if err == nil {
		err = fmt.Errorf("%s ended the session", first.from)
	}
	return connOK, err
}
