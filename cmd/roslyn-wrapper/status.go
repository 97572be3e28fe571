package main

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/teranos/roslyn-wrapper/router"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// statusWriter prints user-facing status to stderr as window/showMessage
// shaped JSON lines. Editors that surface server stderr can show them; stdout
// is never touched.
type statusWriter struct {
	mu sync.Mutex
	w  io.Writer
}

type statusLine struct {
	JSONRPC string                     `json:"jsonrpc"`
	Method  string                     `json:"method"`
	Params  protocol.ShowMessageParams `json:"params"`
}

func newStatusWriter(w io.Writer) *statusWriter {
	return &statusWriter{w: w}
}

func (s *statusWriter) Info(message string) {
	s.write(protocol.MessageTypeInfo, message)
}

func (s *statusWriter) Warning(message string) {
	s.write(protocol.MessageTypeWarning, message)
}

func (s *statusWriter) write(typ protocol.MessageType, message string) {
	line, err := json.Marshal(statusLine{
		JSONRPC: "2.0",
		Method:  router.MethodShowMessage,
		Params:  protocol.ShowMessageParams{Type: typ, Message: message},
	})
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Write(append(line, '\n'))
}
