package dispatch

import (
	"encoding/json"
	"net/http"
)

// ErrorPrefix starts every error text returned to MCP clients.
const ErrorPrefix = "Erreur: "

// Envelope is the transport neutral outcome of one operation.
type Envelope struct {
	Status int
	Data   any
	Error  string
}

func (e Envelope) Failed() bool {
	return e.Error != ""
}

// Translate is the single place where an operation result or error becomes
// what a transport sends back.
func Translate(data any, err error) Envelope {
	if err != nil {
		status := StatusOf(err)
		msg := err.Error()
		if msg == "" {
			msg = http.StatusText(status)
		}
		return Envelope{Status: status, Error: msg}
	}
	if data == nil {
		data = []any{}
	}
	return Envelope{Status: http.StatusOK, Data: data}
}

// JSON renders the envelope as an HTTP body: the data itself, or {"error": message}.
func (e Envelope) JSON() any {
	if e.Failed() {
		return map[string]string{"error": e.Error}
	}
	return e.Data
}

// Text renders the envelope as an MCP text block: indented JSON, or the
// prefixed error message.
func (e Envelope) Text() string {
	if e.Failed() {
		return ErrorPrefix + e.Error
	}
	b, err := json.MarshalIndent(e.Data, "", "  ")
	if err != nil {
		return ErrorPrefix + err.Error()
	}
	return string(b)
}
