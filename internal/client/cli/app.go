// Package cli implements the ledger command-line client. Each invocation
// runs one subcommand; passwords are prompted for and never taken from the
// command line.
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/P-T-/OpenCoins/internal/client/client"
)

// Ledger is the client surface the commands use.
type Ledger interface {
	Register(ctx context.Context, cr client.Credentials, displayName string) error
	Lookup(ctx context.Context, username, displayName string) (*client.AccountInfo, error)
	Balance(ctx context.Context, cr client.Credentials) (*client.AccountInfo, error)
	Mint(ctx context.Context, cr client.Credentials, worth, revertTag string) (string, error)
	Redeem(ctx context.Context, cr client.Credentials, token string) (int64, error)
	Revert(ctx context.Context, cr client.Credentials, revertTag string) ([]string, error)
	Delete(ctx context.Context, cr client.Credentials, transferTo string) error
}

type App struct {
	ledger Ledger
	reader *bufio.Reader
	out    io.Writer
}

func NewApp(l Ledger, in io.Reader, out io.Writer) *App {
	return &App{ledger: l, reader: bufio.NewReader(in), out: out}
}

var errUsage = errors.New("usage")

type command struct {
	usage string
	run   func(a *App, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"register": {"register <username> <display name>", (*App).register},
	"lookup":   {"lookup [-display] <username or display name>", (*App).lookup},
	"balance":  {"balance <username>", (*App).balance},
	"mint":     {"mint <username> <worth> [revert tag]", (*App).mint},
	"redeem":   {"redeem <username> <token>", (*App).redeem},
	"revert":   {"revert <username> <revert tag>", (*App).revert},
	"delete":   {"delete <username> [transfer to]", (*App).delete},
}

var commandOrder = []string{"register", "lookup", "balance", "mint", "redeem", "revert", "delete"}

// Run executes the subcommand in args and returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] == "help" {
		a.help()
		return 2
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(a.out, "Unknown command: %s\n", args[0])
		a.help()
		return 2
	}

	if err := cmd.run(a, ctx, args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(a.out, "Usage: %s\n", cmd.usage)
			return 2
		}
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (a *App) help() {
	fmt.Fprintln(a.out, "Available commands:")
	for _, name := range commandOrder {
		fmt.Fprintf(a.out, "  %s\n", commands[name].usage)
	}
}

func (a *App) credentials(username string) (client.Credentials, error) {
	pw, err := GetPassword(a.reader, "Password for "+username, a.out)
	if err != nil {
		return client.Credentials{}, err
	}
	return client.Credentials{Username: username, Password: pw}, nil
}

func (a *App) register(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	cr, err := a.credentials(args[0])
	if err != nil {
		return err
	}
	if err := a.ledger.Register(ctx, cr, strings.Join(args[1:], " ")); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Registered %s\n", cr.Username)
	return nil
}

func (a *App) lookup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lookup", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	byDisplay := fs.Bool("display", false, "look up by display name")
	if err := fs.Parse(args); err != nil || fs.NArg() == 0 {
		return errUsage
	}

	value := strings.Join(fs.Args(), " ")
	var info *client.AccountInfo
	var err error
	if *byDisplay {
		info, err = a.ledger.Lookup(ctx, "", value)
	} else {
		info, err = a.ledger.Lookup(ctx, value, "")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s (%s)\n", info.Username, info.DisplayName)
	return nil
}

func (a *App) balance(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	cr, err := a.credentials(args[0])
	if err != nil {
		return err
	}
	info, err := a.ledger.Balance(ctx, cr)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s (%s): %d\n", info.Username, info.DisplayName, info.Balance)
	return nil
}

func (a *App) mint(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	var tag string
	if len(args) == 3 {
		tag = args[2]
	}
	cr, err := a.credentials(args[0])
	if err != nil {
		return err
	}
	id, err := a.ledger.Mint(ctx, cr, args[1], tag)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, id)
	return nil
}

func (a *App) redeem(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	cr, err := a.credentials(args[0])
	if err != nil {
		return err
	}
	worth, err := a.ledger.Redeem(ctx, cr, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Redeemed %d\n", worth)
	return nil
}

func (a *App) revert(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	cr, err := a.credentials(args[0])
	if err != nil {
		return err
	}
	ids, err := a.ledger.Revert(ctx, cr, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Reverted %d token(s)\n", len(ids))
	for _, id := range ids {
		fmt.Fprintln(a.out, id)
	}
	return nil
}

func (a *App) delete(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	var transferTo string
	if len(args) == 2 {
		transferTo = args[1]
	}
	cr, err := a.credentials(args[0])
	if err != nil {
		return err
	}
	if err := a.ledger.Delete(ctx, cr, transferTo); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", cr.Username)
	return nil
}
