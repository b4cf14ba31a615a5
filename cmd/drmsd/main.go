package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/suncumby/drms/pkg/catalog"
	"github.com/suncumby/drms/pkg/events"
	"github.com/suncumby/drms/pkg/health"
	"github.com/suncumby/drms/pkg/log"
	"github.com/suncumby/drms/pkg/manager"
	"github.com/suncumby/drms/pkg/metrics"
	"github.com/suncumby/drms/pkg/reconciler"
	"github.com/suncumby/drms/pkg/sums"
	"gopkg.in/yaml.v3"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

// fileConfig is the optional --config yaml file's shape: daemon defaults
// that the CLI flags above it may still override. The tape-group list in
// particular has no natural flag shape, so it's only ever set here.
type fileConfig struct {
	LogDir      string `yaml:"logdir"`
	DBDriver    string `yaml:"db_driver"`
	DBName      string `yaml:"dbname"`
	Namespace   string `yaml:"namespace"`
	TapeGroups  []int  `yaml:"tape_groups"`
	RaftDir     string `yaml:"raft_dir"`
	Listen      string `yaml:"listen"`
	ArchiveAddr string `yaml:"archive_addr"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "drmsd",
	Short:   "drmsd is the DRMS/SUMS storage-unit service daemon",
	Version: Version,
	Long: `drmsd is the SUMS storage-unit service: the server-tier process
that owns the storage-unit cache, the Raft-replicated manager state, and
the single connection to the external archive manager.

It sigwaits SIGINT/SIGTERM/SIGQUIT/SIGUSR1: SIGUSR1 starts a graceful
shutdown (stop accepting new OPEN calls, wait for open sessions to
finish), the others abort immediately.`,
	RunE: runDaemon,
}

func init() {
	flags := rootCmd.Flags()

	flags.String("logdir", "", "log directory (empty = stdout)")
	flags.String("dbname", "", "catalog database name/DSN (required) — backs the catalog health check")
	flags.String("namespace", "default", "default session namespace")
	flags.Int("retention", 0, "retention-days override (parsed; the daemon does not apply it)")
	flags.Int("archive", 1, "archive flag override: -1=on-delete-destroy, 0=off, 1=on (parsed; the daemon does not apply it)")
	flags.Bool("sim", false, "simulation mode: insecure archive-manager/dispatcher connections, no mTLS")
	flags.String("config", "", "optional yaml file of daemon defaults (logdir, dbname, tape groups, ...)")

	flags.String("node-id", "drmsd-1", "unique manager node ID")
	flags.String("db-driver", "postgres", "database/sql driver name registered by the deployment (blank-imported at build time)")
	flags.String("raft-dir", "./drmsd-data", "data directory for Raft log + manager metadata store")
	flags.String("raft-bind", "127.0.0.1:7946", "address for Raft peer communication")
	flags.Bool("raft-bootstrap", false, "bootstrap a new single-replica manager quorum")
	flags.String("raft-join-addr", "", "existing quorum leader address to join (mutually exclusive with --raft-bootstrap)")
	flags.String("raft-join-token", "", "join token issued by the leader (required with --raft-join-addr)")
	flags.String("listen", "127.0.0.1:6556", "dispatcher listen address (client-server wire protocol)")
	flags.String("archive-addr", "127.0.0.1:6557", "external archive manager gRPC address")
	flags.String("remote-site-addr", "", "remote-SUMS-master HTTP endpoint for cross-site GET fallback (empty = always TRYLATER)")
	flags.Int("site-code", 0, "this installation's site code, for site-encoded SUNUM routing")
	flags.IntSlice("tape-groups", []int{0}, "tape-group rotation the allocator hands out new units from")
	flags.String("metrics-addr", "127.0.0.1:9090", "address for the /metrics and /healthz HTTP endpoints")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "emit logs as JSON")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	configPath, _ := flags.GetString("config")
	var fcfg *fileConfig
	if configPath != "" {
		loaded, err := loadFileConfig(configPath)
		if err != nil {
			return err
		}
		fcfg = loaded
	}

	str := func(name, fallback string) string {
		v, _ := flags.GetString(name)
		if v == "" {
			return fallback
		}
		return v
	}

	logDir := str("logdir", "")
	if fcfg != nil && !flags.Changed("logdir") && fcfg.LogDir != "" {
		logDir = fcfg.LogDir
	}

	dbName, _ := flags.GetString("dbname")
	if fcfg != nil && !flags.Changed("dbname") && fcfg.DBName != "" {
		dbName = fcfg.DBName
	}
	if dbName == "" {
		return fmt.Errorf("--dbname is required")
	}

	dbDriver, _ := flags.GetString("db-driver")
	if fcfg != nil && !flags.Changed("db-driver") && fcfg.DBDriver != "" {
		dbDriver = fcfg.DBDriver
	}

	namespace, _ := flags.GetString("namespace")
	if fcfg != nil && !flags.Changed("namespace") && fcfg.Namespace != "" {
		namespace = fcfg.Namespace
	}

	sim, _ := flags.GetBool("sim")
	nodeID, _ := flags.GetString("node-id")
	raftDir, _ := flags.GetString("raft-dir")
	if fcfg != nil && !flags.Changed("raft-dir") && fcfg.RaftDir != "" {
		raftDir = fcfg.RaftDir
	}
	raftBind, _ := flags.GetString("raft-bind")
	raftBootstrap, _ := flags.GetBool("raft-bootstrap")
	raftJoinAddr, _ := flags.GetString("raft-join-addr")
	raftJoinToken, _ := flags.GetString("raft-join-token")
	listenAddr, _ := flags.GetString("listen")
	if fcfg != nil && !flags.Changed("listen") && fcfg.Listen != "" {
		listenAddr = fcfg.Listen
	}
	archiveAddr, _ := flags.GetString("archive-addr")
	if fcfg != nil && !flags.Changed("archive-addr") && fcfg.ArchiveAddr != "" {
		archiveAddr = fcfg.ArchiveAddr
	}
	remoteSiteAddr, _ := flags.GetString("remote-site-addr")
	siteCode, _ := flags.GetInt("site-code")
	tapeGroups, _ := flags.GetIntSlice("tape-groups")
	if fcfg != nil && !flags.Changed("tape-groups") && len(fcfg.TapeGroups) > 0 {
		tapeGroups = fcfg.TapeGroups
	}
	metricsAddr, _ := flags.GetString("metrics-addr")

	logLevel, _ := flags.GetString("log-level")
	logJSON, _ := flags.GetBool("log-json")
	var logOutput *os.File
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(logDir+"/drmsd.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOutput = f
	}
	logCfg := log.Config{Level: log.Level(logLevel), JSONOutput: logJSON}
	if logOutput != nil {
		logCfg.Output = logOutput
	}
	log.Init(logCfg)
	logger := log.WithComponent("drmsd")

	logger.Info().
		Str("node_id", nodeID).
		Str("namespace", namespace).
		Bool("sim", sim).
		Msg("starting drmsd")

	db, err := catalog.Open(dbDriver, dbName, logger)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer db.Close()

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   nodeID,
		BindAddr: raftBind,
		DataDir:  raftDir,
	})
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	switch {
	case raftBootstrap:
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
		logger.Info().Msg("manager quorum bootstrapped")
	case raftJoinAddr != "":
		if err := mgr.Join(raftJoinAddr, raftJoinToken); err != nil {
			return fmt.Errorf("join cluster: %w", err)
		}
		logger.Info().Str("leader", raftJoinAddr).Msg("joined manager quorum")
	default:
		return fmt.Errorf("either --raft-bootstrap or --raft-join-addr is required")
	}

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()

	var caCertPEM []byte
	if !sim {
		caCertPEM = mgr.GetCACertPEM()
	}

	worker := sums.NewArchiveWorker(archiveAddr, caCertPEM)
	worker.Start()
	defer worker.Stop()

	alloc := sums.NewAllocator(mgr, worker, tapeGroups)

	var resolver sums.RemoteResolver = sums.NoOpRemoteResolver{}
	if remoteSiteAddr != "" {
		resolver = sums.NewHTTPRemoteResolver(remoteSiteAddr)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	dispatcher := sums.NewDispatcher(mgr, alloc, worker, resolver, broker, siteCode)

	recon := reconciler.NewReconciler(mgr)
	recon.Start()
	defer recon.Stop()

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}
	if !sim {
		tlsLn, err := wrapTLSListener(ln, mgr, nodeID)
		if err != nil {
			ln.Close()
			return fmt.Errorf("wrap dispatcher listener in TLS: %w", err)
		}
		ln = tlsLn
	}

	metrics.SetVersion(Version)
	checkers := []namedChecker{
		{"catalog", health.NewCatalogChecker(db)},
		{"archive-manager", health.NewTCPChecker(archiveAddr)},
	}
	go serveHTTP(metricsAddr, mgr, checkers, logger)

	serveErrCh := make(chan error, 1)
	go func() {
		if err := dispatcher.Serve(ln); err != nil {
			serveErrCh <- err
		}
	}()
	logger.Info().Str("addr", listenAddr).Msg("dispatcher listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGUSR1)

	var sig os.Signal
	select {
	case sig = <-sigCh:
	case err := <-serveErrCh:
		logger.Error().Err(err).Msg("dispatcher listener failed")
		sig = syscall.SIGTERM
	}

	if sig == syscall.SIGUSR1 {
		logger.Info().Msg("graceful shutdown requested (SIGUSR1): draining open sessions")
		safe, holders := dispatcher.Shutdown()
		deadline := time.Now().Add(30 * time.Second)
		for !safe && time.Now().Before(deadline) {
			time.Sleep(200 * time.Millisecond)
			safe, holders = dispatcher.Shutdown()
		}
		if !safe {
			logger.Warn().Strs("sessions", holders).Msg("shutdown deadline reached with sessions still open")
		}
	} else {
		logger.Warn().Str("signal", sig.String()).Msg("abort shutdown")
	}

	ln.Close()
	if err := mgr.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("manager shutdown failed")
	}

	if sig == syscall.SIGUSR1 {
		logger.Info().Msg("clean shutdown complete")
		return nil
	}
	os.Exit(1)
	return nil
}

// wrapTLSListener wraps ln for mTLS using a server certificate the
// manager's own CA (manager.go's initializeCA) mints for this node.
func wrapTLSListener(ln net.Listener, mgr *manager.Manager, nodeID string) (net.Listener, error) {
	cert, err := mgr.IssueCertificate(nodeID, "dispatcher")
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(mgr.GetCACertPEM()) {
		return nil, fmt.Errorf("invalid CA certificate")
	}
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}), nil
}

// namedChecker pairs a pkg/health.Checker with the component name it
// reports under on both /healthz and the coarser pkg/metrics registry.
type namedChecker struct {
	name string
	health.Checker
}

// serveHTTP runs the /metrics, /healthz, /health, /ready and /live
// endpoints, plus the manager's /internal/join endpoint
// (Manager.ServeJoin), until the process exits; failures here don't bring down
// the dispatcher. Each poll of /healthz also feeds its checkers' and
// the Raft quorum's results into pkg/metrics' component registry, so
// /ready reflects the same state GetReadiness's critical-component
// list expects.
func serveHTTP(addr string, mgr *manager.Manager, checkers []namedChecker, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		results := make(map[string]health.Result, len(checkers))
		allHealthy := true
		for _, c := range checkers {
			res := c.Check(ctx)
			results[c.name+":"+string(c.Type())] = res
			metrics.RegisterComponent(c.name, res.Healthy, res.Message)
			if !res.Healthy {
				allHealthy = false
			}
		}

		leader := mgr.LeaderAddr()
		raftMsg := "no known leader"
		if leader != "" {
			raftMsg = "leader at " + leader
		}
		metrics.RegisterComponent("raft", leader != "", raftMsg)
		if leader == "" {
			allHealthy = false
		}

		w.Header().Set("Content-Type", "application/json")
		if !allHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(results)
	})
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	mux.HandleFunc("/internal/join", mgr.ServeJoin)
	if err := http.ListenAndServe(addr, mux); err != nil && !strings.Contains(err.Error(), "closed") {
		logger.Error().Err(err).Msg("metrics/health server error")
	}
}
