package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/inactu/inactu-web/core/delegation"
	"github.com/inactu/inactu-web/core/infra/config"
	"github.com/inactu/inactu-web/core/upstream"
)

var stdout io.Writer = os.Stdout

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "package", "packages":
		runPackageCmd(args)
	case "context", "contexts":
		runContextCmd(args)
	case "logs":
		runLogsCmd(args)
	case "token":
		runTokenCmd(args)
	case "audit":
		runAuditCmd(args)
	default:
		usage()
		os.Exit(1)
	}
}

type flagSet struct {
	*flag.FlagSet
	api     *string
	secret  *string
	user    *string
	timeout *time.Duration
	args    []string
}

func newFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	api := fs.String("api", envOr("INACTU_API_BASE_URL", envOr("NEXT_PUBLIC_INACTU_API_BASE_URL", "")), "control plane base url")
	secret := fs.String("secret", envOr("INACTU_API_AUTH_SECRET", ""), "delegation signing secret")
	user := fs.String("user", envOr("INACTU_USER", ""), "user id the calls are made for")
	timeout := fs.Duration("timeout", upstream.DefaultTimeout, "per-call timeout")
	return &flagSet{FlagSet: fs, api: api, secret: secret, user: user, timeout: timeout}
}

// ParseArgs accepts flags before, between and after positional arguments.
// Everything after a bare "--" is positional.
func (fs *flagSet) ParseArgs(args []string) {
	if err := fs.parse(args); err != nil {
		fail(err.Error())
	}
}

func (fs *flagSet) parse(args []string) error {
	fs.args = nil
	for {
		if err := fs.Parse(args); err != nil {
			return err
		}
		rest := fs.FlagSet.Args()
		if consumed := len(args) - len(rest); consumed > 0 && args[consumed-1] == "--" {
			fs.args = append(fs.args, rest...)
			return nil
		}
		if len(rest) == 0 {
			return nil
		}
		fs.args = append(fs.args, rest[0])
		args = rest[1:]
	}
}

// Args returns the positional arguments left after ParseArgs.
func (fs *flagSet) Args() []string { return fs.args }

func (fs *flagSet) NArg() int { return len(fs.args) }

func (fs *flagSet) Arg(i int) string {
	if i < 0 || i >= len(fs.args) {
		return ""
	}
	return fs.args[i]
}

func (fs *flagSet) issuer() *delegation.Issuer {
	return delegation.NewIssuer(delegation.Options{Secret: *fs.secret})
}

func (fs *flagSet) client() *upstream.Client {
	if strings.TrimSpace(*fs.user) == "" {
		fail("user required (--user or INACTU_USER)")
	}
	return upstream.New(upstream.Config{
		BaseURL: config.NormalizeBaseURL(*fs.api),
		Timeout: *fs.timeout,
	}, fs.issuer())
}

// printResponse writes the JSON payload of a successful response, or returns
// the upstream error with its status.
func printResponse(w io.Writer, resp *upstream.Response) error {
	if !resp.OK() {
		return fmt.Errorf("%d: %s", resp.StatusCode, resp.ErrorMessage("request failed"))
	}
	payload := resp.Payload()
	if payload == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return err
	}
	return writeJSON(w, v)
}

func writeJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// readJSONArg returns value itself, or the contents of the file it names.
func readJSONArg(value string) (json.RawMessage, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if !strings.HasPrefix(value, "{") && !strings.HasPrefix(value, "\"") {
		// #nosec G304 -- CLI explicitly reads local files provided by the operator.
		data, err := os.ReadFile(value)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(data), nil
	}
	return json.RawMessage(value), nil
}

func usage() {
	fmt.Print(`inactuctl - inactu control plane CLI

Usage:
  inactuctl package list
  inactuctl package create <name> [--visibility private|public] [--description text]
  inactuctl package versions <name>
  inactuctl package publish <name> --manifest manifest.json
  inactuctl package deprecate <name> <version>
  inactuctl context list [--status running]
  inactuctl context get <context_id>
  inactuctl context create --status starting --region eu [--package name --version v]
  inactuctl context status <context_id> <status>
  inactuctl context log <context_id> --message text [--severity info] [--metadata json]
  inactuctl logs <context_id> [--severity s] [--q text] [--from t] [--to t] [--window 15m|1h|today]
                              [--before-id id] [--limit n] [--pages n] [--audit] [--json]
  inactuctl token mint <user_id>
  inactuctl token inspect <token>
  inactuctl audit tail [--nats url] [--subject subject]

Global flags:
  --api      Control plane base URL (default from INACTU_API_BASE_URL)
  --secret   Delegation signing secret (default from INACTU_API_AUTH_SECRET)
  --user     User id for delegated calls (default from INACTU_USER)
  --timeout  Per-call timeout (default 10s)
`)
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func check(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
