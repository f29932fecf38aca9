package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/inactu/inactu-web/core/delegation"
)

func runTokenCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	switch args[0] {
	case "mint":
		fs := newFlagSet("token mint")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("user id required")
		}
		tok, err := fs.issuer().Mint(fs.Arg(0))
		check(err)
		fmt.Fprintln(stdout, tok.Raw)
	case "inspect":
		fs := newFlagSet("token inspect")
		fs.ParseArgs(args[1:])
		if fs.NArg() < 1 {
			fail("token required")
		}
		tok, err := fs.issuer().Verify(fs.Arg(0))
		check(err)
		check(describeToken(stdout, tok))
	default:
		usage()
		os.Exit(1)
	}
}

func describeToken(w io.Writer, tok delegation.Token) error {
	return writeJSON(w, map[string]any{
		"sub": tok.Subject,
		"iss": tok.Issuer,
		"aud": tok.Audience,
		"jti": tok.ID,
		"iat": tok.IssuedAt.UTC().Format(time.RFC3339),
		"exp": tok.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
