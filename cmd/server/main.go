// Command server runs the chat service's accept loop, admin/metrics HTTP
// surface, periodic metrics logging, and persistence on shutdown, wired together the way the teacher's
// main.go wires its own subsystems (flag.Parse, a cancel-on-SIGINT context,
// a handful of background goroutines started before the blocking Run call).
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/RadYio/messenger/internal/server"
	"github.com/RadYio/messenger/internal/store"
)

func main() {
	certFile := flag.String("certfile", "", "TLS certificate file (required)")
	keyFile := flag.String("keyfile", "", "TLS private key file (required)")
	verbose := flag.Bool("v", false, "verbose logging")
	apiAddr := flag.String("api-addr", "", "admin/metrics HTTP listen address (empty to disable)")
	statePath := flag.String("state-file", store.DefaultPath, "HMAC-signed persistent state file")
	secretFile := flag.String("secret-file", "", "file containing the HMAC secret (uses an insecure default if empty)")
	perIPLimit := flag.Int("per-ip-limit", 0, "maximum simultaneous connections per IP (0 = unlimited)")
	rateLimit := flag.Float64("rate-limit", 0, "maximum inbound frames per second per connection (0 = unlimited)")
	flag.Parse()

	args := flag.Args()
	if *certFile == "" || *keyFile == "" || len(args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s --certfile PATH --keyfile PATH [-v] IP PORT\n", os.Args[0])
		os.Exit(2)
	}
	ip, port := args[0], args[1]
	addr := net.JoinHostPort(ip, port)

	if *verbose {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}

	secret := store.DefaultSecret
	if *secretFile != "" {
		b, err := os.ReadFile(*secretFile)
		if err != nil {
			log.Fatalf("[server] read secret file: %v", err)
		}
		secret = b
	}

	st, err := store.Load(*statePath, secret)
	if err != nil {
		log.Fatalf("[server] load state: %v", err)
	}
	log.Printf("[server] loaded state from %s", *statePath)

	tlsConfig, err := server.LoadTLSConfig(*certFile, *keyFile)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("[server] listen on %s: %v", addr, err)
	}
	tlsListener := tls.NewListener(ln, tlsConfig)

	acceptor := server.NewAcceptor(tlsListener, st, server.Config{
		StatePath:  *statePath,
		Secret:     secret,
		PerIPLimit: *perIPLimit,
		RateLimit:  *rateLimit,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] received interrupt, shutting down...")
		cancel()
	}()

	go server.RunMetrics(ctx, st, 30*time.Second)

	if *apiAddr != "" {
		api := server.NewAPIServer(st)
		go func() {
			if err := api.Run(ctx, *apiAddr); err != nil {
				log.Printf("[server] admin API stopped: %v", err)
			}
		}()
		log.Printf("[server] admin API listening on %s", *apiAddr)
	}

	log.Printf("[server] listening on %s", addr)
	if err := acceptor.Run(ctx); err != nil {
		log.Fatalf("[server] %v", err)
	}
}
