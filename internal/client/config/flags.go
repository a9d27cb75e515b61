package config

import (
	"flag"
	"os"
	"time"

	"github.com/offlinekit/docstore/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   base URL of the remote document endpoint
//	-d string   SQLite DSN of the local replica
//	-p int      change-poll interval in seconds (remote-only collections)
//
// The function filters os.Args to only include the flags it knows about, to
// avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-p"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address of the remote endpoint")
	fs.StringVar(&cfg.ReplicaDSN, "d", cfg.ReplicaDSN, "local replica DSN")
	pollSeconds := fs.Int("p", int(cfg.PollInterval.Seconds()), "change poll interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.PollInterval = time.Duration(*pollSeconds) * time.Second
}
