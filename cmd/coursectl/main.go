// Command coursectl drives one client tab from a terminal.
//
// Each invocation opens a tab over the configured durable store, runs one
// subcommand and exits. Tabs that share a durable store share "remember me"
// sessions and lesson progress; with REDIS_ADDR set they also see each
// other's changes live (try two terminals running "coursectl watch").
//
// A session signed in without --remember lives in the tab's own store. By
// default that store is in memory and dies with the command; pass --tab to
// keep a named tab's store on disk between invocations.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/sakif/course-session/internal/apperror"
)

type command struct {
	usage string
	run   func(args []string) error
}

var commands = map[string]command{
	"register": {"register --name N --email E [--password P] [--remember]", cmdRegister},
	"login":    {"login --email E [--password P] [--remember]", cmdLogin},
	"logout":   {"logout", cmdLogout},
	"whoami":   {"whoami", cmdWhoami},
	"profile":  {"profile [--name N] [--email E]", cmdProfile},
	"enroll":   {"enroll <course>", cmdEnroll},
	"toggle":   {"toggle <course> <lesson>", cmdToggle},
	"progress": {"progress <course> <total-lessons>", cmdProgress},
	"check":    {"check <private|instructor|admin|subscriber|course> <path> [course]", cmdCheck},
	"watch":    {"watch [--path P]", cmdWatch},
}

// order is the order commands appear in usage.
var order = []string{"register", "login", "logout", "whoami", "profile", "enroll", "toggle", "progress", "check", "watch"}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}
	name, args := os.Args[1], os.Args[2:]

	switch name {
	case "help", "-h", "--help":
		printUsage()
		return
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", name)
		printUsage()
		os.Exit(2)
	}

	if err := cmd.run(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %s\n", describe(err))
		os.Exit(1)
	}
}

// describe prefers the user-facing message of an AppError.
func describe(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: coursectl <command> [flags]")
	fmt.Fprintln(os.Stderr)
	for _, name := range order {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "common flags: --config DIR (app.env location), --tab NAME (keep this tab's own store on disk)")
}
