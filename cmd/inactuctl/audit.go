package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/inactu/inactu-web/core/infra/bus"
)

func runAuditCmd(args []string) {
	if len(args) < 1 || args[0] != "tail" {
		usage()
		os.Exit(1)
	}
	fs := newFlagSet("audit tail")
	natsURL := fs.String("nats", envOr("NATS_URL", "nats://localhost:4222"), "NATS url")
	subject := fs.String("subject", "inactu.>", "subject to follow")
	fs.ParseArgs(args[1:])

	b, err := bus.NewNatsBus(*natsURL)
	check(err)
	defer b.Close()
	check(b.Subscribe(*subject, "", func(data []byte) error {
		return printEvent(stdout, data)
	}))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

// printEvent writes one compact JSON event per line.
func printEvent(w io.Writer, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
