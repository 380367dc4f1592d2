// File: internal/bidi/session.go
package bidi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bidi-pilot/internal/transport"
)

// Transport is the duplex stream a Session runs over. *transport.Conn satisfies it.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteText(data []byte) error
	Close() error
}

// EventHandler receives events on the reader goroutine. It must not block on a command
// issued to the same session without first handing the work to another goroutine.
type EventHandler func(Event)

// Options configures a Session.
type Options struct {
	Logger *zap.Logger
	// DebugProtocol logs every sent and received data unit at debug level.
	DebugProtocol bool
	// AcceptInsecureCerts is forwarded in the session.new capabilities.
	AcceptInsecureCerts bool
	// InjectedScriptSource overrides the embedded helper script bundle.
	InjectedScriptSource string
	// Transport tunes Open's dialer.
	Transport transport.Options
}

type subscription struct {
	id       int
	category string
	handler  EventHandler
}

// Session owns one remote connection: the command id counter, the pending calls,
// the event subscribers and the browsing contexts the remote end reported.
type Session struct {
	conn    Transport
	logger  *zap.Logger
	debug   bool
	options Options

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*Future
	closed  bool

	subsMu  sync.RWMutex
	subs    []subscription
	nextSub int

	ctxMu    sync.RWMutex
	contexts map[string]*BrowsingContext
	ctxOrder []string

	readerDone chan struct{}
	readerErr  error

	closeOnce sync.Once
	closeErr  error
}

// Open dials url and performs the session handshake.
func Open(ctx context.Context, url string, opts Options) (*Session, error) {
	topts := opts.Transport
	if topts.Logger == nil {
		topts.Logger = opts.Logger
	}
	conn, err := transport.Dial(ctx, url, topts)
	if err != nil {
		return nil, err
	}
	return NewSession(ctx, conn, opts)
}

// NewSession starts the reader on conn, sends session.new and blocks until the handshake
// response arrives. It then synchronizes the browsing context tree and subscribes to
// browsingContext events without waiting for the subscription to be acknowledged.
// On failure conn is closed.
func NewSession(ctx context.Context, conn Transport, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		conn:       conn,
		logger:     logger.Named("bidi"),
		debug:      opts.DebugProtocol,
		options:    opts,
		pending:    make(map[int64]*Future),
		contexts:   make(map[string]*BrowsingContext),
		readerDone: make(chan struct{}),
	}
	go s.readLoop()

	if err := s.bootstrap(ctx); err != nil {
		_ = conn.Close()
		<-s.readerDone
		return nil, err
	}
	return s, nil
}

func (s *Session) bootstrap(ctx context.Context) error {
	capabilities := Params{
		"alwaysMatch": Params{
			"acceptInsecureCerts": s.options.AcceptInsecureCerts,
			"webSocketUrl":        true,
		},
	}
	if err := s.Call(ctx, "session.new", Params{"capabilities": capabilities}, nil); err != nil {
		return fmt.Errorf("bidi: session handshake failed: %w", err)
	}
	if err := s.SyncBrowsingContexts(ctx); err != nil {
		return err
	}
	// Fire and forget; events flow once the remote end processes it.
	s.CallAsync("session.subscribe", Params{"events": []string{"browsingContext"}})
	s.logger.Debug("Session established.")
	return nil
}

// -- Commands --

// CallAsync assigns the next command id, records the pending call, sends the command and
// returns without waiting. Send failures resolve the returned future with the error.
func (s *Session) CallAsync(method string, params Params) *Future {
	if params == nil {
		params = Params{}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		f := newFuture(0, method)
		f.resolve(nil, ErrConnectionClosed)
		return f
	}
	s.nextID++
	id := s.nextID
	f := newFuture(id, method)
	s.pending[id] = f
	s.mu.Unlock()

	payload, err := json.Marshal(command{ID: id, Method: method, Params: params})
	if err != nil {
		s.fail(id, fmt.Errorf("bidi: failed to encode %s: %w", method, err))
		return f
	}
	if s.debug {
		s.logger.Debug("SEND >", zap.ByteString("payload", payload))
	}
	if err := s.conn.WriteText(payload); err != nil {
		if transport.IsClosed(err) {
			err = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		s.fail(id, err)
	}
	return f
}

// Call sends a command and waits for its result, decoding it into out when out is non-nil.
func (s *Session) Call(ctx context.Context, method string, params Params, out interface{}) error {
	return s.CallAsync(method, params).Decode(ctx, out)
}

// fail removes and rejects a pending call if it is still outstanding.
func (s *Session) fail(id int64, err error) {
	s.mu.Lock()
	f, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if ok {
		f.resolve(nil, err)
	}
}

// take atomically removes the pending call for id.
func (s *Session) take(id int64) (*Future, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return f, ok
}

// PendingCount returns the number of calls waiting for a response.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// -- Reader --

func (s *Session) readLoop() {
	defer close(s.readerDone)

	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			if transport.IsClosed(err) {
				s.logger.Debug("Reader stopped; connection closed.", zap.Error(err))
			} else {
				s.logger.Warn("Reader stopped on transport error.", zap.Error(err))
			}
			s.readerErr = err
			s.drain(err)
			return
		}
		s.handleMessage(data)
	}
}

// drain marks the session closed and rejects every outstanding call.
func (s *Session) drain(cause error) {
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = make(map[int64]*Future)
	s.mu.Unlock()

	err := ErrConnectionClosed
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrConnectionClosed, cause)
	}
	for _, f := range pending {
		f.resolve(nil, err)
	}
}

func (s *Session) handleMessage(data []byte) {
	if s.debug {
		s.logger.Debug("RECV <", zap.ByteString("payload", data))
	}

	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("Dropping malformed message.", zap.Error(err), zap.ByteString("payload", data))
		return
	}

	if msg.ID != nil {
		f, ok := s.take(*msg.ID)
		if !ok {
			s.logger.Debug("Dropping response for unknown command id.", zap.Int64("id", *msg.ID))
			return
		}
		switch msg.Type {
		case messageTypeSuccess:
			f.resolve(msg.Result, nil)
		case messageTypeError:
			f.resolve(nil, &ProtocolError{
				Method:     f.method,
				Code:       msg.Error,
				Message:    msg.Message,
				Stacktrace: msg.Stacktrace,
			})
		default:
			f.resolve(nil, fmt.Errorf("bidi: unexpected response type %q for %s", msg.Type, f.method))
		}
		return
	}

	switch msg.Type {
	case messageTypeEvent:
		s.dispatchEvent(Event{Method: msg.Method, Params: msg.Params})
	case messageTypeError:
		s.logger.Warn("Remote end reported an error without a command id.",
			zap.String("error", msg.Error), zap.String("message", msg.Message))
	}
}

// -- Events --

// OnEvent subscribes handler to a category: an exact method name ("browsingContext.load"),
// a module name ("browsingContext") matching every method under it, or "" for everything.
// The returned function removes the subscription.
func (s *Session) OnEvent(category string, handler EventHandler) (unsubscribe func()) {
	s.subsMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscription{id: id, category: category, handler: handler})
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func matchesCategory(category, method string) bool {
	return category == "" || category == method || strings.HasPrefix(method, category+".")
}

func (s *Session) dispatchEvent(ev Event) {
	s.applyContextEvent(ev)

	s.subsMu.RLock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.subsMu.RUnlock()

	for _, sub := range subs {
		if matchesCategory(sub.category, ev.Method) {
			sub.handler(ev)
		}
	}
}

// applyContextEvent keeps the browsing context table and the last known URLs current.
// It runs only on the reader goroutine.
func (s *Session) applyContextEvent(ev Event) {
	switch ev.Method {
	case "browsingContext.contextCreated":
		var info contextInfo
		if err := ev.Decode(&info); err != nil {
			s.logger.Warn("Malformed contextCreated event.", zap.Error(err))
			return
		}
		bc := s.ensureContext(info.Context)
		if info.URL != "" {
			bc.setURL(info.URL)
		}
	case "browsingContext.contextDestroyed":
		var info contextInfo
		if err := ev.Decode(&info); err != nil {
			s.logger.Warn("Malformed contextDestroyed event.", zap.Error(err))
			return
		}
		s.removeContext(info.Context)
	case "browsingContext.navigationStarted":
		var nav navigationInfo
		if err := ev.Decode(&nav); err == nil {
			if bc, ok := s.BrowsingContext(nav.Context); ok {
				bc.forgetInjectedScripts()
			}
		}
	case "browsingContext.domContentLoaded", "browsingContext.load", "browsingContext.fragmentNavigated":
		var nav navigationInfo
		if err := ev.Decode(&nav); err != nil {
			s.logger.Warn("Malformed navigation event.", zap.String("method", ev.Method), zap.Error(err))
			return
		}
		if bc, ok := s.BrowsingContext(nav.Context); ok && nav.URL != "" {
			bc.setURL(nav.URL)
		}
	}
}

// -- Browsing contexts --

func (s *Session) ensureContext(id string) *BrowsingContext {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	if bc, ok := s.contexts[id]; ok {
		return bc
	}
	bc := newBrowsingContext(s, id)
	s.contexts[id] = bc
	s.ctxOrder = append(s.ctxOrder, id)
	return bc
}

func (s *Session) removeContext(id string) {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	delete(s.contexts, id)
	for i, cid := range s.ctxOrder {
		if cid == id {
			s.ctxOrder = append(s.ctxOrder[:i:i], s.ctxOrder[i+1:]...)
			break
		}
	}
}

// BrowsingContext returns a known context by id.
func (s *Session) BrowsingContext(id string) (*BrowsingContext, bool) {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	bc, ok := s.contexts[id]
	return bc, ok
}

// BrowsingContexts returns the known contexts in the order they were first seen.
func (s *Session) BrowsingContexts() []*BrowsingContext {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	out := make([]*BrowsingContext, 0, len(s.ctxOrder))
	for _, id := range s.ctxOrder {
		out = append(out, s.contexts[id])
	}
	return out
}

// SyncBrowsingContexts replaces the context table with the remote end's top-level tree.
func (s *Session) SyncBrowsingContexts(ctx context.Context) error {
	var tree getTreeResult
	if err := s.Call(ctx, "browsingContext.getTree", nil, &tree); err != nil {
		return fmt.Errorf("bidi: failed to fetch context tree: %w", err)
	}

	live := make(map[string]bool, len(tree.Contexts))
	for _, info := range tree.Contexts {
		live[info.Context] = true
	}
	s.ctxMu.RLock()
	var stale []string
	for id := range s.contexts {
		if !live[id] {
			stale = append(stale, id)
		}
	}
	s.ctxMu.RUnlock()
	sort.Strings(stale)
	for _, id := range stale {
		s.removeContext(id)
	}

	for _, info := range tree.Contexts {
		bc := s.ensureContext(info.Context)
		if info.URL != "" {
			bc.setURL(info.URL)
		}
	}
	return nil
}

// CreateBrowsingContext opens a new tab in the default user context.
func (s *Session) CreateBrowsingContext(ctx context.Context) (*BrowsingContext, error) {
	var res createContextResult
	if err := s.Call(ctx, "browsingContext.create", Params{"type": "tab", "userContext": "default"}, &res); err != nil {
		return nil, err
	}
	if res.Context == "" {
		return nil, errors.New("bidi: browsingContext.create returned no context id")
	}
	return s.ensureContext(res.Context), nil
}

// -- Lifecycle --

// Done is closed once the reader has exited.
func (s *Session) Done() <-chan struct{} { return s.readerDone }

// Err returns the error that stopped the reader, if it has stopped.
func (s *Session) Err() error {
	select {
	case <-s.readerDone:
		return s.readerErr
	default:
		return nil
	}
}

// Close asks the browser to close, closes the transport and waits for the reader to exit.
// The browser may drop the connection before answering; that is not reported as an error.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		err := s.Call(ctx, "browser.close", nil, nil)
		if err != nil && !errors.Is(err, ErrConnectionClosed) {
			s.closeErr = fmt.Errorf("bidi: browser.close failed: %w", err)
		}
		if cerr := s.conn.Close(); cerr != nil && s.closeErr == nil && !transport.IsClosed(cerr) {
			s.closeErr = cerr
		}
		select {
		case <-s.readerDone:
		case <-ctx.Done():
			if s.closeErr == nil {
				s.closeErr = ctx.Err()
			}
		}
	})
	return s.closeErr
}
