// This app implements the client side of RPKI-to-Router (RTR): it
// maintains one persisted record per configured cache under the
// directory named by $RTRSYNC_STATE_DIR (default /var/lib/rtrsync) and
// exposes init/reset/refresh/refresh-all/print subcommands over them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/mellowdrifter/rtrsync/internal/logging"
	"github.com/mellowdrifter/rtrsync/internal/orchestrator"
	"github.com/mellowdrifter/rtrsync/internal/protocol"
	"github.com/mellowdrifter/rtrsync/internal/rtrclient"
	"github.com/mellowdrifter/rtrsync/internal/store"
)

const defaultStateDir = "/var/lib/rtrsync"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	stateDir := os.Getenv("RTRSYNC_STATE_DIR")
	if stateDir == "" {
		stateDir = defaultStateDir
	}

	logger := logging.New("info")
	st := store.New(stateDir)
	orch := orchestrator.New(st, rtrclient.NewEngine(nil, nil, logger))

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(orch, os.Args[2:])
	case "reset":
		err = runReset(orch, os.Args[2:])
	case "refresh":
		err = runRefresh(orch, os.Args[2:])
	case "refresh-all":
		err = runRefreshAll(orch, os.Args[2:])
	case "print":
		err = runPrint(orch, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("rtrsync %s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: rtrsync <command> [flags]

commands:
  init -server H -port P [-server H2 -port P2 ...] [-version V ...]
  reset -client_id I
  refresh -client_id I [-force]
  refresh-all [-force]
  print [-client_id I]`)
}

// repeatable collects one flag occurrence per repetition: -server and
// -port are given once per cache on an init invocation, -version once
// per protocol version every record may speak.
type repeatable []string

func (r *repeatable) String() string { return fmt.Sprint(*r) }
func (r *repeatable) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func runInit(orch *orchestrator.Orchestrator, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var servers, ports, versions repeatable
	fs.Var(&servers, "server", "cache hostname or IP (repeatable)")
	fs.Var(&ports, "port", "cache port (repeatable, paired by position with -server)")
	fs.Var(&versions, "version", "protocol version every record may speak (repeatable; default 0, 1 and 2)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if len(servers) == 0 || len(servers) != len(ports) {
		return fmt.Errorf("at least one -server/-port pair is required, in equal numbers")
	}

	caches := make([]orchestrator.Cache, len(servers))
	for i := range servers {
		caches[i] = orchestrator.Cache{Server: servers[i], Port: ports[i]}
	}

	supported := protocol.SupportedVersions
	if len(versions) > 0 {
		supported = nil
		for _, v := range versions {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > 2 {
				return fmt.Errorf("invalid -version %q: must be 0, 1 or 2", v)
			}
			supported = append(supported, protocol.Version(n))
		}
	}

	return orch.Init(caches, supported)
}

func runReset(orch *orchestrator.Orchestrator, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	id := fs.Int("client_id", -1, "client id to reset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id < 0 {
		return fmt.Errorf("-client_id is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return orch.Reset(ctx, *id)
}

func runRefresh(orch *orchestrator.Orchestrator, args []string) error {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	id := fs.Int("client_id", -1, "client id to refresh")
	force := fs.Bool("force", false, "bypass the refresh/retry timer gates")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id < 0 {
		return fmt.Errorf("-client_id is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return orch.Refresh(ctx, *id, *force)
}

func runRefreshAll(orch *orchestrator.Orchestrator, args []string) error {
	fs := flag.NewFlagSet("refresh-all", flag.ExitOnError)
	force := fs.Bool("force", false, "bypass the refresh/retry timer gates")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	failures := orch.RefreshAll(ctx, *force)
	if len(failures) == 0 {
		return nil
	}
	for id, err := range failures {
		fmt.Fprintf(os.Stderr, "client %d: %v\n", id, err)
	}
	return fmt.Errorf("%d of the configured caches failed to refresh", len(failures))
}

func runPrint(orch *orchestrator.Orchestrator, args []string) error {
	fs := flag.NewFlagSet("print", flag.ExitOnError)
	id := fs.Int("client_id", -1, "client id to print; omit for the merged state")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		state interface{}
		err   error
	)
	if *id < 0 {
		state, err = orch.Merged()
	} else {
		state, err = orch.State(*id)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}
