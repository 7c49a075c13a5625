package main

import (
	"crypto/tls"

	"github.com/yinhail/quincy/transport"
)

// newConfig returns the transport.Config shared by the client and server
// commands, with the ALPN token this demo protocol speaks.
func newConfig() *transport.Config {
	config := transport.NewConfig()
	config.TLS = &tls.Config{
		NextProtos: []string{"hq-18"},
		MinVersion: tls.VersionTLS13,
	}
	return config
}
