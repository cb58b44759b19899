package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/cyberinferno/go-tlsbridge/eventlog"
)

func runLog(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	id := fs.String("id", "", "Only this connection")
	types := fs.String("type", "", "Comma-separated event types (connect,data,error,close)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: tlsctl log [-id id] [-type t1,t2] <file>")
	}

	r, err := eventlog.NewReader(fs.Arg(0), eventlog.Filter{
		ConnectionID: *id,
		Types:        splitList(*types),
	})
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read capture: %w", err)
		}

		fmt.Fprintln(w, formatRecord(rec))
	}
}

func formatRecord(r eventlog.Record) string {
	ts := r.Timestamp.Format(time.RFC3339Nano)

	switch r.Type {
	case "connect":
		return fmt.Sprintf("%s %s connect %s %s alpn=%q in %s", ts, r.ConnectionID, r.TLSVersion, r.CipherSuite, r.Protocol, r.ConnectTime)
	case "data":
		return fmt.Sprintf("%s %s data %d bytes % x", ts, r.ConnectionID, len(r.Payload), r.Payload)
	case "error":
		return fmt.Sprintf("%s %s error %s", ts, r.ConnectionID, r.Error)
	case "close":
		if r.Error != "" {
			return fmt.Sprintf("%s %s close %s", ts, r.ConnectionID, r.Error)
		}
		return fmt.Sprintf("%s %s close", ts, r.ConnectionID)
	default:
		return fmt.Sprintf("%s %s %s", ts, r.ConnectionID, r.Type)
	}
}
