// Command client is a terminal front end for the gateway. It logs into a
// PvPGN server through the gateway and relays typed lines as chat.
//
// Lines starting with "!" are local commands:
//
//	!users   print the channel roster
//	!login   log in again with the same credentials
//	!logout  close the PvPGN session, keep the gateway connection
//	!quit    exit
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/omochice/pvpgn-gateway/internal/client"
	tcpclient "github.com/omochice/pvpgn-gateway/internal/client/tcp"
	wsclient "github.com/omochice/pvpgn-gateway/internal/client/ws"
	"github.com/omochice/pvpgn-gateway/internal/logger"
	"github.com/omochice/pvpgn-gateway/pkg/protocol"
)

const requestTimeout = 10 * time.Second

type options struct {
	url      string
	tcpAddr  string
	encoding string
	host     string
	port     int
	username string
	password string
	logLevel string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.StringVarP(&opts.url, "url", "g", "ws://localhost:8080/ws", "Gateway WebSocket URL")
	fs.StringVar(&opts.tcpAddr, "tcp", "", "Use the raw TCP transport at host:port instead of WebSocket")
	fs.StringVar(&opts.encoding, "encoding", "json", "WebSocket envelope encoding (json, proto)")
	fs.StringVarP(&opts.host, "host", "H", "localhost", "PvPGN server host")
	fs.IntVarP(&opts.port, "port", "p", 6112, "PvPGN server port")
	fs.StringVarP(&opts.username, "username", "u", "", "Account name")
	fs.StringVar(&opts.password, "password", "", "Account password (prompted if empty)")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "Log level for diagnostics on stderr")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.username == "" {
		return errors.New("username is required, use --username")
	}
	if opts.password == "" {
		pw, err := promptPassword()
		if err != nil {
			return err
		}
		opts.password = pw
	}

	login := protocol.LoginPayload{
		Host:     opts.host,
		Port:     protocol.Port(opts.port),
		Username: opts.username,
		Password: opts.password,
	}
	if err := login.Validate(); err != nil {
		return err
	}

	c, err := newClient(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()

	s := &session{client: c, view: client.NewView(), login: login, out: os.Stdout}
	if err := s.send(ctx, func(ctx context.Context) error { return c.Login(ctx, login) }); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.printEnvelopes()
	}()

	input := make(chan string)
	go readLines(os.Stdin, input)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			s.println("*** Connection to gateway closed")
			return nil
		case line, ok := <-input:
			if !ok {
				return nil
			}
			if quit := s.handleInput(ctx, line); quit {
				return nil
			}
		}
	}
}

func newClient(opts options) (client.Client, error) {
	log := logger.New(opts.logLevel, logger.FormatText, os.Stderr)
	if opts.tcpAddr != "" {
		return tcpclient.New(opts.tcpAddr, log), nil
	}

	codec, err := protocol.CodecFor(opts.encoding)
	if err != nil {
		return nil, err
	}
	url := opts.url
	if codec.Binary() {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "encoding=" + codec.Name()
	}
	return wsclient.New(url, codec, log), nil
}

func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("password is required, use --password")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// session renders gateway traffic and turns input lines into commands.
type session struct {
	client client.Client
	login  protocol.LoginPayload

	mu   sync.Mutex
	view *client.View
	out  io.Writer
}

func (s *session) printEnvelopes() {
	for env := range s.client.Envelopes() {
		s.mu.Lock()
		line, ok := s.view.Apply(env)
		s.mu.Unlock()
		if ok {
			s.println(line)
		}
	}
}

func (s *session) handleInput(ctx context.Context, line string) (quit bool) {
	text := strings.TrimSpace(line)
	if text == "" {
		return false
	}

	var err error
	switch strings.ToLower(text) {
	case "!quit", "!exit":
		return true
	case "!users":
		s.mu.Lock()
		users := strings.Join(s.view.Users, ", ")
		s.mu.Unlock()
		s.println("*** Users: " + users)
	case "!login":
		err = s.send(ctx, func(ctx context.Context) error { return s.client.Login(ctx, s.login) })
	case "!logout":
		err = s.send(ctx, s.client.Logout)
	default:
		s.mu.Lock()
		connected := s.view.Connected()
		state := s.view.State
		s.mu.Unlock()
		if !connected {
			s.println(fmt.Sprintf("*** Not connected (state: %s), message not sent", state))
			return false
		}
		err = s.send(ctx, func(ctx context.Context) error { return s.client.Chat(ctx, text) })
		if err == nil {
			s.println(client.LocalEcho(text))
		}
	}
	if err != nil {
		s.println("!!! " + err.Error())
	}
	return false
}

func (s *session) send(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return fn(ctx)
}

func (s *session) println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
}
