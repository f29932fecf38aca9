package main

import (
	"context"
	"os"

	"github.com/inactu/inactu-web/core/contexts"
)

func runContextCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	ctx := context.Background()
	switch args[0] {
	case "list":
		fs := newFlagSet("context list")
		status := fs.String("status", "", "status filter")
		fs.ParseArgs(args[1:])
		svc := contexts.NewService(fs.client())
		check(printResponse(stdout, svc.List(ctx, *fs.user, *status)))
	case "get":
		fs := newFlagSet("context get")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("context id required")
		}
		svc := contexts.NewService(fs.client())
		resp, err := svc.Get(ctx, *fs.user, fs.Arg(0))
		check(err)
		check(printResponse(stdout, resp))
	case "create":
		fs := newFlagSet("context create")
		status := fs.String("status", contexts.StatusStarting, "initial status")
		region := fs.String("region", "", "region")
		pkg := fs.String("package", "", "package name (with --version)")
		version := fs.String("version", "", "package version (with --package)")
		fs.ParseArgs(args[1:])
		svc := contexts.NewService(fs.client())
		resp, err := svc.Create(ctx, *fs.user, contexts.CreateInput{
			Status:  *status,
			Region:  *region,
			Package: *pkg,
			Version: *version,
		})
		check(err)
		check(printResponse(stdout, resp))
	case "status":
		fs := newFlagSet("context status")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 2 {
			fail("usage: context status <context_id> <status>")
		}
		svc := contexts.NewService(fs.client())
		resp, err := svc.SetStatus(ctx, *fs.user, fs.Arg(0), fs.Arg(1))
		check(err)
		check(printResponse(stdout, resp))
	case "log":
		fs := newFlagSet("context log")
		severity := fs.String("severity", "info", "debug|info|warn|error")
		message := fs.String("message", "", "log message")
		metadata := fs.String("metadata", "", "metadata JSON object (inline or path)")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("context id required")
		}
		raw, err := readJSONArg(*metadata)
		check(err)
		svc := contexts.NewService(fs.client())
		resp, err := svc.AppendLog(ctx, *fs.user, fs.Arg(0), contexts.LogInput{
			Severity: *severity,
			Message:  *message,
			Metadata: raw,
		})
		check(err)
		check(printResponse(stdout, resp))
	default:
		usage()
		os.Exit(1)
	}
}
