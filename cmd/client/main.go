// Command client is a minimal terminal chat client for manual testing
// against a duckchat relay server.
package main

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/shinyduck/duckchat/pkg/protocol"
)

func main() {
	addr := flag.String("addr", "localhost:9700", "Server address")
	caFile := flag.String("ca", "", "PEM file with the server certificate to trust")
	insecure := flag.Bool("insecure", false, "Skip certificate verification (self-signed dev servers)")
	signup := flag.Bool("signup", false, "Create a new account instead of logging in")
	username := flag.String("username", "", "Username")
	password := flag.String("password", "", "Password")
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("both -username and -password are required")
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: *insecure} //nolint:gosec // explicit dev flag
	if *caFile != "" {
		pem, err := os.ReadFile(*caFile)
		if err != nil {
			log.Fatalf("read CA file: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			log.Fatalf("no certificates found in %s", *caFile)
		}
		tlsCfg.RootCAs = pool
	}

	conn, err := tls.Dial("tcp", *addr, tlsCfg)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	// First frame is the slot assignment.
	frame, err := readServerFrame(conn)
	if err != nil {
		log.Fatalf("read assign id: %v", err)
	}
	if frame.Type != protocol.TypeServerAssignID {
		log.Fatalf("expected %s, got %s", protocol.TypeServerAssignID, frame.Type)
	}
	log.Printf("connected to %s as slot %d", *addr, frame.ID)

	// Authenticate before handing the read side to the printer goroutine.
	var authReq any
	if *signup {
		authReq = protocol.NewClientSignup(*username, *password)
	} else {
		authReq = protocol.NewClientLogin(*username, *password)
	}
	if err := protocol.WriteFrame(conn, authReq); err != nil {
		log.Fatalf("send auth: %v", err)
	}
	frame, err = readServerFrame(conn)
	if err != nil {
		log.Fatalf("read auth response: %v", err)
	}
	if frame.Error != "" {
		log.Fatalf("authentication rejected: %s", frame.Error)
	}
	log.Printf("authenticated as %s", *username)

	go func() {
		for {
			frame, err := readServerFrame(conn)
			if err != nil {
				log.Printf("connection closed: %v", err)
				os.Exit(0)
			}
			printServerFrame(frame)
		}
	}()

	fmt.Println("Type your messages (or 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "quit" || text == "exit" {
			break
		}
		if err := protocol.WriteFrame(conn, protocol.NewClientMessage(text)); err != nil {
			log.Printf("send failed: %v", err)
			break
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("error reading input: %v", err)
	}

	log.Println("disconnected")
}

func readServerFrame(conn *tls.Conn) (*protocol.ServerFrame, error) {
	payload, err := protocol.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeServerFrame(payload)
}

func printServerFrame(frame *protocol.ServerFrame) {
	switch frame.Type {
	case protocol.TypeServerExchangeUsernames:
		fmt.Printf("*** chatting with %s ***\n", frame.Username)
	case protocol.TypeServerMessage:
		printChat(frame.Message)
	case protocol.TypeServerMessages:
		for _, msg := range frame.Messages {
			printChat(msg)
		}
	case protocol.TypeServerLoginError, protocol.TypeServerSignupError:
		if frame.Error != "" {
			fmt.Printf("!!! %s\n", frame.Error)
		}
	}
}

func printChat(msg protocol.ChatPayload) {
	if msg.Role == "server" {
		fmt.Printf("*** %s ***\n", msg.Content)
		return
	}
	fmt.Printf("[%s]: %s\n", msg.Username, msg.Content)
}
