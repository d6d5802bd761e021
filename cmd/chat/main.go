// Command chat runs the expense agent for one user in the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"expense-agent/internal/agent"
	"expense-agent/internal/config"
	"expense-agent/internal/handlers"
	"expense-agent/internal/llm"
	"expense-agent/internal/logging"
	"expense-agent/internal/policy"
	"expense-agent/internal/storage"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	ctx := context.Background()
	cfg := config.Load(ctx, logging.New(stderr, "warn"))

	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(stderr)

	userID := fs.String("user", "", "User id whose ledger is used")
	dbURL := fs.String("db", cfg.DatabaseURL, "Ledger database (sqlite path, postgres:// or mongodb:// URL)")
	mode := fs.String("mode", cfg.Mode, "Model mode (MOCK for the offline mock model)")
	logLevel := fs.String("log-level", "warn", "Log level")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*userID) == "" {
		fmt.Fprintln(stdout, "Usage: chat -user <user_id> [-db <database>] [-mode MOCK]")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: user")
	}

	logger := logging.New(stderr, *logLevel)
	ctx = logging.WithLogger(ctx, logger)

	ledger, err := storage.Open(ctx, *dbURL)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer ledger.Close()

	engine, err := policy.LoadEngine(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	a := agent.New(llm.NewClient(cfg.LLM(), *mode), ledger,
		agent.WithPolicy(engine),
		agent.WithMaxListAll(cfg.MaxListAll),
	)

	interactive := isTerminal(stdin)
	scanner := bufio.NewScanner(stdin)
	for {
		if interactive {
			fmt.Fprint(stdout, "> ")
		}
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			return nil
		}

		reply, err := a.Handle(ctx, *userID, text)
		if err != nil {
			reply = handlers.FallbackReply
		}
		fmt.Fprintln(stdout, reply)
	}
	return scanner.Err()
}

func isTerminal(stdin io.Reader) bool {
	f, ok := stdin.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
