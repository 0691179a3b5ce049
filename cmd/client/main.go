// Command client is a minimal line-oriented chat client driving
// internal/driver over a TLS connection: it reads lines from stdin to post
// and prints incoming records to stdout, following the original client.py's
// print_message convention (negative uid = error, uid 0 = server message).
package main

import (
	"bufio"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"golang.org/x/term"

	"github.com/RadYio/messenger/internal/driver"
)

func main() {
	username := flag.String("u", "", "username")
	insecure := flag.Bool("insecure-skip-verify", false, "skip TLS certificate verification (self-signed dev certs)")
	flag.Parse()

	args := flag.Args()
	if *username == "" || len(args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s -u USER IP PORT\n", os.Args[0])
		os.Exit(2)
	}
	ip, port := args[0], args[1]
	addr := net.JoinHostPort(ip, port)

	password, err := readPassword()
	if err != nil {
		log.Fatalf("[client] read password: %v", err)
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: *insecure})
	if err != nil {
		log.Fatalf("[client] dial %s: %v", addr, err)
	}
	defer conn.Close()

	d, err := driver.Connect(conn, *username, password)
	if err != nil {
		log.Fatalf("[client] connect: %v", err)
	}
	log.Printf("[client] connected as uid %d", d.UID())

	stop := make(chan struct{})
	inqueue := make(chan string)
	outqueue := make(chan driver.Record, 64)

	go readStdinLines(inqueue, stop)
	go printRecords(outqueue)

	if err := d.Run(stop, inqueue, outqueue); err != nil {
		log.Fatalf("[client] session ended: %v", err)
	}
}

// readPassword reads the password from a non-echoing terminal prompt via
// golang.org/x/term, or falls back to a plain line read when stdin is not a
// terminal (e.g. piped input in tests).
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", scanner.Err()
	}
	return scanner.Text(), nil
}

// readStdinLines feeds every non-empty line typed by the user into inqueue until
// stdin closes, then signals stop so Run exits cleanly.
func readStdinLines(inqueue chan<- string, stop chan<- struct{}) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		inqueue <- line
	}
	close(stop)
}

// printRecords is the lineUI: it renders every record the driver surfaces,
// resolving the three author-id classes the way print_message in the
// original client.py does (error, server, ordinary user).
func printRecords(outqueue <-chan driver.Record) {
	for rec := range outqueue {
		switch {
		case rec.AuthorUID == driver.ErrorAuthorUID:
			fmt.Fprintf(os.Stderr, "[error] %s\n", rec.Body)
		case rec.AuthorUID == driver.ServerAuthorUID:
			fmt.Printf("[server] %s\n", rec.Body)
		default:
			name := rec.Username
			if name == "" {
				name = fmt.Sprintf("uid:%d", rec.AuthorUID)
			}
			fmt.Printf("%s: %s\n", name, rec.Body)
		}
	}
}
