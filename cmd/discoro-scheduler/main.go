// Command discoro-scheduler runs the scheduler event loop behind the
// transport listener, the entry point spec.md §6 specifies flags for.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/config"
	"github.com/ocurero/discoro/internal/httpd"
	"github.com/ocurero/discoro/internal/scheduler"
	"github.com/ocurero/discoro/internal/transport"
)

var flags config.Scheduler
var extIPAddr string
var certFile, keyFile string
var httpAddr string
var httpPort int

var rootCmd = &cobra.Command{
	Use:   "discoro-scheduler",
	Short: "Metric-driven scheduler for discoro edge workloads",
	RunE:  run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.IPAddr, "ip_addr", "0.0.0.0", "bind address for the transport listener")
	f.StringVar(&extIPAddr, "ext_ip_addr", "", "externally reachable address, if different from ip_addr")
	f.IntVar(&flags.UDPPort, "udp_port", 9700, "gossip discovery bind port")
	f.StringVar(&flags.Name, "name", "", "advertised scheduler name")
	f.StringVar(&flags.DestPath, "dest_path", "", "root directory for staged computation files")
	f.Int64Var(&flags.MaxFileSize, "max_file_size", 0, "max bytes accepted per file transfer, 0 is unbounded")
	f.StringVar(&flags.Secret, "secret", "", "shared secret; accepted but not checked against clients")
	f.StringSliceVar(&flags.Nodes, "node", nil, "node address (repeatable); accepted but not used to filter or find nodes")
	f.DurationVar(&flags.ZombiePeriod, "zombie_period", config.DefaultZombiePeriod, "server silence before zombie audit closes it, 0 uses 5x the computation's pulse_interval")
	f.BoolVar(&flags.Debug, "debug", false, "enable debug logging")
	f.BoolVar(&flags.Clean, "clean", false, "wipe dest_path's scheduler root at startup")
	f.StringVar(&certFile, "certfile", "", "unused placeholder for TLS cert, matching spec.md §6's flag surface")
	f.StringVar(&keyFile, "keyfile", "", "unused placeholder for TLS key, matching spec.md §6's flag surface")
	f.StringVar(&httpAddr, "http_addr", "0.0.0.0", "dashboard bind address")
	f.IntVar(&httpPort, "http_port", 8181, "dashboard listen port")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	extIP := flags.IPAddr
	if extIPAddr != "" {
		extIP = extIPAddr
	}
	if flags.ExtIPAddr = extIP; flags.ExtIPAddr == flags.IPAddr {
		flags.ExtIPAddr = ""
	}
	if err := flags.Validate(); err != nil {
		return err
	}

	if flags.Clean && flags.DestPath != "" {
		if err := os.RemoveAll(filepath.Join(flags.DestPath, "discoro", "scheduler")); err != nil {
			return fmt.Errorf("clean dest_path: %w", err)
		}
	}
	if err := os.MkdirAll(flags.DestPath, 0o755); err != nil {
		return fmt.Errorf("create dest_path: %w", err)
	}

	logger, err := newLogger(flags.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	t, err := transport.New(flags.IPAddr, 0, transport.Options{
		AdvertiseName:  flags.Name,
		DestPath:       flags.DestPath,
		MaxFileSize:    flags.MaxFileSize,
		GossipBindPort: flags.UDPPort,
	}, logger)
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer t.Close()
	logger.Info("discoro-scheduler: transport listening", zap.String("location", t.Self().String()))

	sched := scheduler.New(t, logger, flags)

	dash, err := httpd.New(httpd.Options{Transport: t, Logger: logger, PollSec: 2})
	if err != nil {
		return fmt.Errorf("start dashboard: %w", err)
	}
	go func() {
		addr := fmt.Sprintf("%s:%d", httpAddr, httpPort)
		logger.Info("discoro-scheduler: dashboard listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, dash.Router()); err != nil {
			logger.Warn("discoro-scheduler: dashboard stopped", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- sched.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stdinCh := make(chan string)
	go readStdinCommands(stdinCh)

	for {
		select {
		case err := <-errCh:
			return err
		case <-sigCh:
			logger.Info("discoro-scheduler: interrupt received, shutting down")
			sched.Close()
			return nil
		case line, ok := <-stdinCh:
			if !ok || line == "quit" || line == "exit" {
				logger.Info("discoro-scheduler: quit requested, shutting down")
				sched.Close()
				return nil
			}
		}
	}
}

// readStdinCommands feeds quit/exit lines from stdin to run's select
// loop, closing stdinCh on EOF so the loop can treat that the same way
// (spec.md §6: "exits on quit/exit/EOF/interrupt").
func readStdinCommands(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- strings.TrimSpace(scanner.Text())
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
