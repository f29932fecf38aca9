package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/inactu/inactu-web/core/contexts"
	"github.com/inactu/inactu-web/core/logquery"
)

func runLogsCmd(args []string) {
	fs := newFlagSet("logs")
	filter := logquery.BindFlags(fs.FlagSet)
	pages := fs.Int("pages", 1, "pages to fetch (0 = all)")
	audit := fs.Bool("audit", false, "only print status changes")
	jsonOut := fs.Bool("json", false, "output JSON entries")
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		fail("context id required")
	}
	f, err := filter()
	check(err)

	svc := contexts.NewService(fs.client())
	pager := svc.Pager(*fs.user, fs.Arg(0), f)
	entries, err := pager.Collect(context.Background(), *pages)
	check(err)
	check(renderLogs(stdout, entries, *audit, *jsonOut))
	if !pager.Done() {
		fmt.Fprintf(os.Stderr, "more: --before-id %d\n", pager.Filter().BeforeID)
	}
}

// renderLogs prints entries newest first, one line each, or their audit
// transitions when auditOnly is set.
func renderLogs(w io.Writer, entries []logquery.Entry, auditOnly, jsonOut bool) error {
	if auditOnly {
		trail := logquery.AuditTrail(entries)
		if jsonOut {
			return writeJSON(w, trail)
		}
		for _, tr := range trail {
			if _, err := fmt.Fprintf(w, "%d %s %s -> %s\n", tr.EntryID, tr.Timestamp, tr.From, tr.To); err != nil {
				return err
			}
		}
		return nil
	}
	if jsonOut {
		return writeJSON(w, entries)
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%d %s\n", e.ID, logquery.Render(e).Line); err != nil {
			return err
		}
	}
	return nil
}
