// Command replay re-runs a recorded session trace against a responder and
// reports whether the dialog engine still produces the recorded commands.
// With the default stub responder any trace doubles as a regression test;
// -engine scripted checks traces recorded against the scripted responder.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/replay"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/respond"
)

func main() {
	var (
		engine  = flag.String("engine", "stub", "responder to replay against: stub (recorded replies) or scripted")
		timeout = flag.Duration("timeout", 30*time.Second, "overall replay timeout")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: replay [-engine stub|scripted] <trace.jsonl>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	records, err := replay.LoadTrace(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(2)
	}

	var responder respond.Responder
	switch *engine {
	case "stub":
		responder = replay.StubFromTrace(records)
	case "scripted":
		responder = respond.NewScripted()
	default:
		fmt.Fprintf(os.Stderr, "replay: unknown engine %q\n", *engine)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := replay.Replay(ctx, records, responder)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(2)
	}

	fmt.Printf("session %s: %d events, %d recorded commands, %d produced\n",
		result.SessionID, result.Events, result.Recorded, result.Produced)

	if result.OK() {
		fmt.Println("ok: replay matches the recorded session")
		return
	}
	for _, m := range result.Mismatches {
		fmt.Println("mismatch:", m)
	}
	os.Exit(1)
}
