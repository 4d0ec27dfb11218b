// pixelpact serves the whiteboard invite API and the realtime relay.
//
// Configuration comes from built-in defaults, an optional TOML file
// (--config), PIXELPACT_* environment variables and finally the flags
// below, in that order. PIXELPACT_SECRET is required.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"pixelpact/cmd/internal/app"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "pixelpact: %v\n", err)
		if errors.Is(err, app.ErrConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("pixelpact", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a TOML config file")
	addr := flags.String("addr", "", "HTTP listen address (PIXELPACT_HTTP_ADDR)")
	logLevel := flags.String("log-level", "", "debug, info, warn or error (PIXELPACT_LOG_LEVEL)")
	logFormat := flags.String("log-format", "", "json or pretty (PIXELPACT_LOG_FORMAT)")
	ledger := flags.String("ledger", "", "redemption ledger: sqlite, memory, postgres or redis (PIXELPACT_LEDGER_BACKEND)")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if rest := flags.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	var o app.Overrides
	if flags.Changed("addr") {
		o.HTTPAddr = addr
	}
	if flags.Changed("log-level") {
		o.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		o.LogFormat = logFormat
	}
	if flags.Changed("ledger") {
		o.LedgerBackend = ledger
	}

	return app.Run(*configPath, o)
}
