package main

import (
	"crypto/tls"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/yinhail/quincy"
	"github.com/yinhail/quincy/transport"
)

func newServerCommand() *cobra.Command {
	var (
		listenAddr string
		certFile   string
		keyFile    string
		retry      bool
		logLevel   int
	)
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Accept QUIC connections and echo stream data",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServer(listenAddr, certFile, keyFile, retry, logLevel)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&listenAddr, "listen", "0.0.0.0:4433", "listen on the given IP:port")
	flags.StringVar(&certFile, "cert", "", "TLS certificate file")
	flags.StringVar(&keyFile, "key", "", "TLS private key file")
	flags.BoolVar(&retry, "retry", false, "require address validation via Retry before accepting a connection")
	flags.IntVar(&logLevel, "v", 2, "log verbose: 0=off 1=error 2=info 3=debug 4=trace")
	return cmd
}

func runServer(listenAddr, certFile, keyFile string, retry bool, logLevel int) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return err
	}
	config := newConfig()
	config.TLS.Certificates = []tls.Certificate{cert}
	config.RequireAddressValidation = retry

	handler := &serverHandler{}
	server := quic.NewServer(config)
	server.SetHandler(handler)
	server.SetLogger(logLevel, os.Stdout)
	if err := server.ListenAndServe(listenAddr); err != nil {
		return err
	}
	log.Printf("listening on %s (retry=%v)", listenAddr, retry)
	select {}
}

// serverHandler echoes every byte it receives on a stream back to the
// peer on the same stream.
type serverHandler struct{}

func (serverHandler) Serve(c quic.Conn, events []transport.Event) {
	for _, e := range events {
		switch e.Type {
		case quic.EventConnAccept:
			log.Printf("%s accepted", c.RemoteAddr())
		case transport.EventStream:
			st := c.Stream(e.StreamID)
			if st == nil {
				continue
			}
			buf := make([]byte, 1024)
			n, _ := st.Read(buf)
			if n > 0 {
				_, _ = st.Write(buf[:n])
			}
		case quic.EventConnClose:
			log.Printf("%s closed", c.RemoteAddr())
		}
	}
}
