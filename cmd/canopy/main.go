// Command canopy is the composition root: it wires storage, the world
// model, the builtin registry, the scheduler, and a CoreDispatcher into
// one runnable telnet-facing server, the equivalent of the teacher's
// cmd/barn binary generalized onto the transactional object model.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"

	"canopy/builtins"
	"canopy/config"
	"canopy/db"
	"canopy/engine"
	"canopy/logging"
	"canopy/metrics"
	"canopy/narrative"
	"canopy/scheduler"
	"canopy/server"
	"canopy/storage"
	"canopy/types"
	"canopy/world"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "canopy",
		Short: "A transactional LambdaMOO-style object server",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults built in)")
	root.AddCommand(serveCmd())
	root.AddCommand(evalCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// buildServer opens cfg's storage/narrative backends and wires the full
// request pipeline. The caller owns closing the returned closers.
func buildServer(cfg config.Config) (*engine.Core, *scheduler.Scheduler, func(), error) {
	var closers []func() error

	storagePath := cfg.Storage.DBPath
	var persist storage.Persister
	if storagePath != "" {
		bp, err := storage.OpenBoltPersister(storagePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("canopy: open storage: %w", err)
		}
		persist = bp
		closers = append(closers, bp.Close)
	}

	eng := storage.NewEngine(persist, storage.RelObjectParent, storage.RelObjectLocation)
	if bp, ok := persist.(*storage.BoltPersister); ok {
		if err := bp.Load(eng); err != nil {
			return nil, nil, nil, fmt.Errorf("canopy: load storage: %w", err)
		}
	}
	wdb := world.NewDatabase(eng)
	store := db.NewStore()

	var narrPersist *narrative.Persister
	if cfg.Narrative.CacheDays > 0 && storagePath != "" {
		np, err := narrative.OpenPersister(storagePath + ".narrative")
		if err != nil {
			return nil, nil, nil, fmt.Errorf("canopy: open narrative log: %w", err)
		}
		narrPersist = np
		closers = append(closers, np.Close)
	}
	narrLog := narrative.New(cfg.Narrative, narrPersist)
	closers = append(closers, func() error { narrLog.Shutdown(); return nil })

	registry := builtins.NewRegistry()
	registry.RegisterObjectBuiltins(store)
	registry.RegisterPropertyBuiltins(store)
	registry.RegisterVerbBuiltins(store)
	registry.RegisterCryptoBuiltins(store)
	registry.RegisterSystemBuiltins(store)
	registry.RegisterStubBuiltins()

	sched := scheduler.New(wdb, narrLog, cfg.Scheduler.MaxCommitRetries, cfg.Scheduler.WorkerPoolSize)
	sched.Start()
	closers = append(closers, func() error { sched.Stop(); return nil })

	dispatcher := engine.NewCoreDispatcher(wdb, store, registry, sched, cfg.VM.TickBudget)
	core := engine.NewCore(wdb, dispatcher)

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}
	return core, sched, closeAll, nil
}

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the telnet listener and scheduler worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Listener.TelnetPort = port
			}
			logging.Init(cfg.Logging.ToLogging())

			core, _, closeAll, err := buildServer(cfg)
			if err != nil {
				return err
			}
			defer closeAll()

			if cfg.Metrics.Enabled {
				go serveMetrics(cfg.Metrics.Addr)
			}
			return listenTelnet(core, cfg.Listener.BindAddr, cfg.Listener.TelnetPort)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override the configured telnet port")
	return cmd
}

func evalCmd() *cobra.Command {
	var player int64
	cmd := &cobra.Command{
		Use:   "eval <source>",
		Short: "Compile and run a MOO expression as a one-shot task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.Init(cfg.Logging.ToLogging())

			_, sched, closeAll, err := buildServer(cfg)
			if err != nil {
				return err
			}
			defer closeAll()

			store := db.NewStore()
			registry := builtins.NewRegistry()
			registry.RegisterObjectBuiltins(store)
			registry.RegisterPropertyBuiltins(store)
			registry.RegisterVerbBuiltins(store)
			registry.RegisterCryptoBuiltins(store)
			registry.RegisterSystemBuiltins(store)

			body := scheduler.EvalBody(store, registry, args[0], types.ObjID(player), types.ObjID(player), true, cfg.VM.TickBudget)
			t := sched.NewTask(scheduler.KindEval, types.ObjID(player), types.ObjID(player), cfg.VM.TickBudget, 0, body)
			result := sched.RunSync(t)
			if result.Err != nil {
				return result.Err
			}
			fmt.Println(result.Value)
			return nil
		},
	}
	cmd.Flags().Int64Var(&player, "player", 2, "player object ID to evaluate as (wizard permissions)")
	return cmd
}

// listenTelnet accepts connections and runs each through the teacher's
// TCPTransport/line-framing, translating lines into Core.Command calls
// the way server/connection.go's ConnectionManager does for the legacy
// in-memory store.
func listenTelnet(core *engine.Core, bindAddr string, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddr, port))
	if err != nil {
		return fmt.Errorf("canopy: listen: %w", err)
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go handleConn(core, conn)
	}
}

func handleConn(core *engine.Core, conn net.Conn) {
	t := server.NewTCPTransport(conn)
	defer t.Close()

	newConn, err := core.EstablishConnection(t.RemoteAddr(), 0, 0, nil, nil)
	if err != nil {
		t.WriteLine("*** connection rejected ***")
		return
	}

	var auth engine.AuthToken
	loggedIn := false
	player := newConn.ConnectionObj

	for {
		line, err := t.ReadLine()
		if err != nil {
			core.Detach(newConn.ClientToken, true)
			return
		}

		if !loggedIn {
			argv := splitWords(line)
			res, err := core.LoginCommand(newConn.ClientToken, types.ObjNothing, argv, true)
			if err != nil || !res.Success {
				t.WriteLine("*** Login failed ***")
				continue
			}
			loggedIn = true
			auth = res.AuthToken
			t.WriteLine("*** Connected ***")
			continue
		}

		if _, err := core.Command(newConn.ClientToken, auth, player, line); err != nil {
			t.WriteLine(fmt.Sprintf("#%s", err.Error()))
		}
	}
}

// serveMetrics exposes the Prometheus registry over plain HTTP, the
// equivalent of the teacher's bare pprof/debug endpoints but for
// metrics.Handler's collectors.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	_ = http.ListenAndServe(addr, mux)
}

func splitWords(line string) []string {
	var words []string
	start := -1
	for i, r := range line {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				words = append(words, line[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, line[start:])
	}
	return words
}
