// File: internal/bidi/biditest/remote.go
package biditest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/json-iterator/go"
)

// Command is one command received by the fake remote end.
type Command struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Decode unmarshals the command parameters.
func (c Command) Decode(out interface{}) error {
	return json.Unmarshal(c.Params, out)
}

// Param returns one top level parameter, decoded generically.
func (c Command) Param(name string) interface{} {
	var params map[string]interface{}
	if err := json.Unmarshal(c.Params, &params); err != nil {
		return nil
	}
	return params[name]
}

// HandlerFunc answers a command. Returning a *RemoteError produces an error envelope;
// returning NoReply leaves the command unanswered.
type HandlerFunc func(cmd Command) (interface{}, error)

// RemoteError is an error envelope sent back to the client.
type RemoteError struct {
	Code       string
	Message    string
	Stacktrace string
}

func (e *RemoteError) Error() string { return e.Code + ": " + e.Message }

type noReply struct{}

// NoReply suppresses the response to a command.
var NoReply = noReply{}

// ContextInfo is a browsing context reported by browsingContext.getTree.
type ContextInfo struct {
	Context  string        `json:"context"`
	URL      string        `json:"url"`
	Children []ContextInfo `json:"children"`
}

// RealmInfo is a realm reported by script.getRealms.
type RealmInfo struct {
	Realm   string `json:"realm"`
	Origin  string `json:"origin"`
	Type    string `json:"type"`
	Context string `json:"context,omitempty"`
}

// Remote is a scriptable stand-in for a browser's remote end. It answers session
// bootstrap commands by default and records every command it receives.
type Remote struct {
	conn *End

	mu        sync.Mutex
	handlers  map[string]HandlerFunc
	commands  []Command
	contexts  []ContextInfo
	realms    []RealmInfo
	nextCtxID int
	arrived   chan struct{}

	done chan struct{}
}

// NewRemote starts serving commands arriving on conn.
func NewRemote(conn *End) *Remote {
	r := &Remote{
		conn:     conn,
		handlers: make(map[string]HandlerFunc),
		arrived:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.installDefaults()
	go r.serve()
	return r
}

func (r *Remote) installDefaults() {
	r.handlers["session.new"] = func(Command) (interface{}, error) {
		return map[string]interface{}{
			"sessionId":    "fake-session",
			"capabilities": map[string]interface{}{"browserName": "firefox", "webSocketUrl": true},
		}, nil
	}
	r.handlers["session.subscribe"] = func(Command) (interface{}, error) {
		return map[string]interface{}{}, nil
	}
	r.handlers["browser.close"] = func(Command) (interface{}, error) {
		return map[string]interface{}{}, nil
	}
	r.handlers["browsingContext.getTree"] = func(Command) (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		contexts := make([]ContextInfo, len(r.contexts))
		copy(contexts, r.contexts)
		return map[string]interface{}{"contexts": contexts}, nil
	}
	r.handlers["browsingContext.create"] = func(Command) (interface{}, error) {
		r.mu.Lock()
		r.nextCtxID++
		id := fmt.Sprintf("context-%d", r.nextCtxID)
		r.contexts = append(r.contexts, ContextInfo{Context: id, URL: "about:blank"})
		r.mu.Unlock()
		if err := r.Emit("browsingContext.contextCreated", map[string]interface{}{"context": id, "url": "about:blank"}); err != nil {
			return nil, err
		}
		return map[string]interface{}{"context": id}, nil
	}
	r.handlers["script.getRealms"] = func(Command) (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		realms := make([]RealmInfo, len(r.realms))
		copy(realms, r.realms)
		return map[string]interface{}{"realms": realms}, nil
	}
}

// Handle installs or replaces the handler for method.
func (r *Remote) Handle(method string, h HandlerFunc) {
	r.mu.Lock()
	r.handlers[method] = h
	r.mu.Unlock()
}

// SetContexts sets the tree returned by browsingContext.getTree.
func (r *Remote) SetContexts(contexts ...ContextInfo) {
	r.mu.Lock()
	r.contexts = contexts
	r.mu.Unlock()
}

// SetRealms sets the realms returned by script.getRealms.
func (r *Remote) SetRealms(realms ...RealmInfo) {
	r.mu.Lock()
	r.realms = realms
	r.mu.Unlock()
}

// Commands returns every command received so far.
func (r *Remote) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// CommandsFor returns the received commands with the given method, in arrival order.
func (r *Remote) CommandsFor(method string) []Command {
	var out []Command
	for _, c := range r.Commands() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// WaitFor blocks until at least one command with method arrived or the timeout elapses.
func (r *Remote) WaitFor(method string, timeout time.Duration) (Command, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		for _, c := range r.commands {
			if c.Method == method {
				r.mu.Unlock()
				return c, true
			}
		}
		arrived := r.arrived
		r.mu.Unlock()

		select {
		case <-arrived:
		case <-deadline.C:
			return Command{}, false
		}
	}
}

// Emit pushes an event to the client.
func (r *Remote) Emit(method string, params interface{}) error {
	return r.send(map[string]interface{}{"type": "event", "method": method, "params": params})
}

// Reply sends a success response for id, e.g. to answer a command held with NoReply.
func (r *Remote) Reply(id int64, result interface{}) error {
	if result == nil {
		result = map[string]interface{}{}
	}
	return r.send(map[string]interface{}{"type": "success", "id": id, "result": result})
}

// Send writes a raw data unit to the client.
func (r *Remote) Send(raw []byte) error {
	return r.conn.WriteText(raw)
}

// Close drops the connection from the remote side.
func (r *Remote) Close() error {
	return r.conn.Close()
}

// Done is closed once the serve loop exits.
func (r *Remote) Done() <-chan struct{} { return r.done }

func (r *Remote) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.conn.WriteText(data)
}

func (r *Remote) serve() {
	defer close(r.done)
	for {
		data, err := r.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}

		r.mu.Lock()
		r.commands = append(r.commands, cmd)
		close(r.arrived)
		r.arrived = make(chan struct{})
		h, ok := r.handlers[cmd.Method]
		r.mu.Unlock()

		if !ok {
			_ = r.sendError(cmd.ID, &RemoteError{Code: "unknown command", Message: "Unknown command " + cmd.Method})
			continue
		}
		result, err := h(cmd)
		if err != nil {
			var re *RemoteError
			if !errors.As(err, &re) {
				re = &RemoteError{Code: "unknown error", Message: err.Error()}
			}
			_ = r.sendError(cmd.ID, re)
			continue
		}
		if result == NoReply {
			continue
		}
		_ = r.Reply(cmd.ID, result)

		if cmd.Method == "browser.close" {
			_ = r.conn.Close()
			return
		}
	}
}

func (r *Remote) sendError(id int64, re *RemoteError) error {
	return r.send(map[string]interface{}{
		"type":       "error",
		"id":         id,
		"error":      re.Code,
		"message":    re.Message,
		"stacktrace": re.Stacktrace,
	})
}
