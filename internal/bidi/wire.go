// File: internal/bidi/wire.go
package bidi

import json "github.com/json-iterator/go"

// Params is the parameter object of a command.
type Params map[string]interface{}

// merge returns a copy of p with the extra keys set.
func (p Params) merge(extra Params) Params {
	out := make(Params, len(p)+len(extra))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// command is the client to remote envelope.
type command struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// message is the union of the remote to client envelopes: success and error responses and events.
type message struct {
	ID         *int64          `json:"id,omitempty"`
	Type       string          `json:"type"`
	Method     string          `json:"method,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
	Stacktrace string          `json:"stacktrace,omitempty"`
}

const (
	messageTypeSuccess = "success"
	messageTypeError   = "error"
	messageTypeEvent   = "event"
)

// Event is one unsolicited notification from the remote end.
type Event struct {
	Method string
	Params json.RawMessage
}

// Decode unmarshals the event parameters into out.
func (e Event) Decode(out interface{}) error {
	if len(e.Params) == 0 {
		return nil
	}
	return json.Unmarshal(e.Params, out)
}

// Event and result payloads used by the session itself.

type contextInfo struct {
	Context  string        `json:"context"`
	URL      string        `json:"url"`
	Parent   *string       `json:"parent,omitempty"`
	Children []contextInfo `json:"children,omitempty"`
}

type getTreeResult struct {
	Contexts []contextInfo `json:"contexts"`
}

type createContextResult struct {
	Context string `json:"context"`
}

type navigationInfo struct {
	Context    string `json:"context"`
	Navigation string `json:"navigation,omitempty"`
	URL        string `json:"url"`
}

type realmInfo struct {
	Realm   string `json:"realm"`
	Origin  string `json:"origin"`
	Type    string `json:"type"`
	Context string `json:"context,omitempty"`
}

type getRealmsResult struct {
	Realms []realmInfo `json:"realms"`
}

type screenshotResult struct {
	Data string `json:"data"`
}

// scriptResult is the result of script.evaluate and script.callFunction.
type scriptResult struct {
	Type             string          `json:"type"`
	Result           json.RawMessage `json:"result,omitempty"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails,omitempty"`
	Realm string `json:"realm,omitempty"`
}
