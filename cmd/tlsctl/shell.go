package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/cyberinferno/go-tlsbridge/bridge"
	"github.com/cyberinferno/go-tlsbridge/config"
)

// Shell is the interactive front end of a bridge.
type Shell struct {
	b   *bridge.Bridge
	rl  *readline.Instance
	out io.Writer
}

func runShell(ctx context.Context, cancel context.CancelFunc, cfg config.Config) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "tlsctl> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	log, err := newLogger(cfg, rl.Stderr())
	if err != nil {
		return err
	}
	defer log.Close()

	b, cleanup, err := newBridge(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	s := &Shell{b: b, rl: rl, out: rl.Stdout()}
	if err := s.subscribe(); err != nil {
		return err
	}

	s.Run(ctx, cancel)

	closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return b.Close(closeCtx)
}

// subscribe prints every bridge event above the prompt.
func (s *Shell) subscribe() error {
	for _, et := range bridge.EventTypes {
		if _, err := s.b.AddListener(et, func(ev bridge.Event) {
			fmt.Fprintln(s.out, formatEvent(ev))
		}); err != nil {
			return err
		}
	}
	return nil
}

// Run reads commands until quit, EOF or ctx ends.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		if !s.exec(ctx, strings.ToLower(parts[0]), parts[1:]) {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
	}
}

// exec runs one command and reports whether the shell should keep going.
func (s *Shell) exec(ctx context.Context, cmd string, args []string) bool {
	var err error

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "connect", "c":
		err = s.cmdConnect(args)
	case "send", "s":
		err = s.cmdSend(args)
	case "disconnect", "d":
		err = s.cmdDisconnect(args)
	case "disconnect-all":
		err = s.b.DisconnectAll(ctx)
	case "list", "ls":
		s.cmdList()
	case "bind":
		err = s.b.BindToNetwork(ctx)
	case "unbind":
		err = s.b.UnbindNetwork()
	case "quit", "exit", "q":
		return false
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return true
}

func (s *Shell) cmdConnect(args []string) error {
	opts, err := parseConnectArgs(args)
	if err != nil {
		return err
	}

	id, err := s.b.Connect(opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "connecting %s\n", id)
	return nil
}

func (s *Shell) cmdSend(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: send <id> <data> [utf8|hex|base64]")
	}

	enc := bridge.EncodingUTF8
	if len(args) > 2 {
		var err error
		if enc, err = bridge.ParseEncoding(args[2]); err != nil {
			return err
		}
	}

	return s.b.Send(args[0], args[1], enc)
}

func (s *Shell) cmdDisconnect(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: disconnect <id>")
	}
	return s.b.Disconnect(args[0])
}

func (s *Shell) cmdList() {
	ids := s.b.Connections()
	if len(ids) == 0 {
		fmt.Fprintln(s.out, "No connections")
		return
	}

	for _, id := range ids {
		state, _ := s.b.State(id)
		fmt.Fprintf(s.out, "  %-36s  %s\n", id, state)
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
tlsctl commands:
  connect <host> <port> [-insecure] [-sni name] [-alpn p1,p2] [-id id] [-timeout 10s]
  send <id> <data> [utf8|hex|base64]   - Send data (default utf8)
  disconnect <id>                      - Close one connection
  disconnect-all                       - Close every connection
  list                                 - List live connections
  bind / unbind                        - Pin traffic to the bound network
  quit                                 - Exit`)
}

// parseConnectArgs reads "<host> <port> [flags]".
func parseConnectArgs(args []string) (bridge.ConnectOptions, error) {
	var opts bridge.ConnectOptions
	if len(args) < 2 {
		return opts, errors.New("usage: connect <host> <port> [flags]")
	}

	port, err := strconv.Atoi(args[1])
	if err != nil {
		return opts, fmt.Errorf("invalid port %q", args[1])
	}
	opts.Host = args[0]
	opts.Port = port

	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&opts.Insecure, "insecure", false, "Accept any server certificate")
	fs.StringVar(&opts.SNI, "sni", "", "Server name to send and verify")
	fs.StringVar(&opts.ID, "id", "", "Connection id")
	fs.DurationVar(&opts.Timeout, "timeout", 0, "Connect and handshake timeout")
	alpn := fs.String("alpn", "", "Comma-separated ALPN protocols")

	if err := fs.Parse(args[2:]); err != nil {
		return opts, err
	}

	if *alpn != "" {
		for _, p := range strings.Split(*alpn, ",") {
			if p = strings.TrimSpace(p); p != "" {
				opts.ALPNProtocols = append(opts.ALPNProtocols, p)
			}
		}
	}

	return opts, nil
}

func formatEvent(ev bridge.Event) string {
	switch ev.Type {
	case bridge.EventConnect:
		s := fmt.Sprintf("[%s] connected %s %s", ev.ID, ev.TLSVersion, ev.CipherSuite)
		if ev.Protocol != "" {
			s += " alpn=" + ev.Protocol
		}
		return s
	case bridge.EventData:
		b, err := ev.Bytes()
		if err != nil {
			return fmt.Sprintf("[%s] data (undecodable): %v", ev.ID, err)
		}
		return fmt.Sprintf("[%s] data %d bytes: %q", ev.ID, len(b), b)
	case bridge.EventError:
		return fmt.Sprintf("[%s] error: %s", ev.ID, ev.Error)
	case bridge.EventClose:
		if ev.Error != "" {
			return fmt.Sprintf("[%s] closed: %s", ev.ID, ev.Error)
		}
		return fmt.Sprintf("[%s] closed", ev.ID)
	default:
		return fmt.Sprintf("[%s] %s", ev.ID, ev.Type)
	}
}
