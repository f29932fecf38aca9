package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/inactu/inactu-web/core/packages"
)

func runPackageCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	ctx := context.Background()
	switch args[0] {
	case "list":
		fs := newFlagSet("package list")
		fs.ParseArgs(args[1:])
		svc := packages.NewService(fs.client())
		check(printResponse(stdout, svc.ListPackages(ctx, *fs.user)))
	case "create":
		fs := newFlagSet("package create")
		visibility := fs.String("visibility", string(packages.VisibilityPrivate), "private or public")
		description := fs.String("description", "", "package description")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("package name required")
		}
		svc := packages.NewService(fs.client())
		resp, err := svc.CreatePackage(ctx, *fs.user, packages.CreateInput{
			Name:        fs.Arg(0),
			Visibility:  *visibility,
			Description: *description,
		})
		check(err)
		check(printResponse(stdout, resp))
	case "versions":
		fs := newFlagSet("package versions")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("package name required")
		}
		svc := packages.NewService(fs.client())
		resp, err := svc.ListVersions(ctx, *fs.user, fs.Arg(0))
		check(err)
		check(printResponse(stdout, resp))
	case "publish":
		fs := newFlagSet("package publish")
		manifest := fs.String("manifest", "", "manifest JSON (inline or path)")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("package name required")
		}
		raw, err := readJSONArg(*manifest)
		check(err)
		svc := packages.NewService(fs.client())
		resp, err := svc.PublishVersion(ctx, *fs.user, fs.Arg(0), raw)
		check(err)
		check(printResponse(stdout, resp))
	case "deprecate":
		fs := newFlagSet("package deprecate")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 2 {
			fail("usage: package deprecate <name> <version>")
		}
		svc := packages.NewService(fs.client())
		resp, err := svc.DeprecateOnce(ctx, *fs.user, fs.Arg(0), fs.Arg(1))
		if errors.Is(err, packages.ErrAlreadyDeprecated) {
			fail(fmt.Sprintf("%s %s is already deprecated", fs.Arg(0), fs.Arg(1)))
		}
		check(err)
		check(printResponse(stdout, resp))
	default:
		usage()
		os.Exit(1)
	}
}
