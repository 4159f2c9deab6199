// Command mindctl drives a mindease session from the terminal.
//
// Usage:
//
//	mindctl [--config <file>] signup <email> <name>     create an account (prompts for password)
//	mindctl [--config <file>] login <email>             sign in (prompts for password)
//	mindctl [--config <file>] login-google              sign in with Google
//	mindctl [--config <file>] logout
//	mindctl [--config <file>] whoami
//	mindctl [--config <file>] set <field> <value>       update a profile field
//	mindctl [--config <file>] avatar <file>             upload an avatar image
//	mindctl [--config <file>] avatar-delete
//	mindctl [--config <file>] reset-password <email>
//	mindctl [--config <file>] ban|unban|monitor <uid>   moderation, admins only
//	mindctl [--config <file>] grant-admin <email>       promote a user, local stores only
//	mindctl [--config <file>] ticket [-category c] [-priority p] <subject> <message>
//	mindctl [--config <file>] tickets
//
// Configuration is read from mindease.yaml and ME__ environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/mindease/mindease/app"
	"github.com/mindease/mindease/config"
	"github.com/mindease/mindease/errors"
	"golang.org/x/term"
)

func main() {
	fs := flag.NewFlagSet("mindctl", flag.ExitOnError)
	configFile := fs.String("config", "", "additional YAML config file")
	fs.Usage = usage
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if fs.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	if *configFile != "" {
		if err := config.LoadFile(*configFile); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.New(ctx, app.WithBrowser(func(authURL string) error {
		fmt.Fprintf(os.Stderr, "Open this address to continue:\n\n  %s\n\n", authURL)
		return nil
	}))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", errors.PublicMessage(err, err.Error()))
		os.Exit(1)
	}

	c := &cli{app: a, out: os.Stdout, readPassword: promptPassword}
	err = c.run(a.Context(ctx), fs.Args())
	if cerr := a.Close(context.WithoutCancel(ctx)); err == nil {
		err = cerr
	}
	if errors.Is(err, errUsage) {
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", errors.PublicMessage(err, err.Error()))
		os.Exit(1)
	}
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.WrapPrefix(err, "read password", 0)
	}
	return string(raw), nil
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage:
  mindctl [--config <file>] signup <email> <name>
  mindctl [--config <file>] login <email>
  mindctl [--config <file>] login-google
  mindctl [--config <file>] logout
  mindctl [--config <file>] whoami
  mindctl [--config <file>] set <field> <value>
  mindctl [--config <file>] avatar <file>
  mindctl [--config <file>] avatar-delete
  mindctl [--config <file>] reset-password <email>
  mindctl [--config <file>] ban|unban|monitor <uid>
  mindctl [--config <file>] grant-admin <email>
  mindctl [--config <file>] ticket [-category c] [-priority p] <subject> <message>
  mindctl [--config <file>] tickets

Fields for set: name, email, password, phone, address, customInstructions.
`)
}
