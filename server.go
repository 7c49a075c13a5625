package quic

import (
	"io"

	"github.com/yinhail/quincy/transport"
)

// Server drives server-role connections accepted on a listening UDP
// socket (spec.md §4.3, server connection state machine). Address
// validation via Retry, when transport.Config.RequireAddressValidation is
// set, happens in the endpoint before any transport.Conn exists: an
// Initial without a valid token is answered with a Retry, and only a
// validated one is handed to transport.Accept.
type Server struct {
	ep *endpoint
}

// NewServer returns a Server that will use config for every connection it
// accepts. A nil config uses transport.NewConfig's defaults.
func NewServer(config *transport.Config) *Server {
	return &Server{ep: newEndpoint(false, config)}
}

func (s *Server) SetHandler(h Handler) { s.ep.SetHandler(h) }

func (s *Server) SetLogger(level int, w io.Writer) { s.ep.SetLogger(level, w) }

// ListenAndServe binds addr and starts accepting connections.
func (s *Server) ListenAndServe(addr string) error {
	return s.ep.listen(addr)
}

func (s *Server) Close() error { return s.ep.close() }
