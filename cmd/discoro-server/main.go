// Command discoro-server runs the reference agent: it joins gossip
// discovery, registers its task-kind handlers, and waits for a scheduler
// to bootstrap it.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/agent"
	"github.com/ocurero/discoro/internal/transport"
)

var (
	ipAddr         string
	udpPort        int
	name           string
	destPath       string
	maxFileSize    int64
	dockerImages   []string
	heartbeatEvery string
)

var rootCmd = &cobra.Command{
	Use:   "discoro-server",
	Short: "Reference agent for discoro scheduled tasks",
	RunE:  run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&ipAddr, "ip_addr", "0.0.0.0", "bind address for the transport listener")
	f.IntVar(&udpPort, "udp_port", 9700, "gossip discovery bind port")
	f.StringVar(&name, "name", "", "advertised server name")
	f.StringVar(&destPath, "dest_path", "", "directory incoming xfer files land in")
	f.Int64Var(&maxFileSize, "max_file_size", 0, "max bytes accepted per file transfer, 0 is unbounded")
	f.StringSliceVar(&dockerImages, "docker_task", nil, "name=image pairs to register as container-backed task kinds (repeatable)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if destPath != "" {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return fmt.Errorf("create dest_path: %w", err)
		}
	}

	t, err := transport.New(ipAddr, 0, transport.Options{
		AdvertiseName:  name,
		DestPath:       destPath,
		MaxFileSize:    maxFileSize,
		GossipBindPort: udpPort,
	}, logger)
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer t.Close()

	a, err := agent.New(agent.Options{Transport: t, Logger: logger})
	if err != nil {
		return fmt.Errorf("register agent service: %w", err)
	}

	for _, pair := range dockerImages {
		taskName, image, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("--docker_task %q must be name=image", pair)
		}
		a.RegisterDockerImage(taskName, image)
		logger.Info("discoro-server: registered docker task kind", zap.String("name", taskName), zap.String("image", image))
	}

	logger.Info("discoro-server: listening", zap.String("location", t.Self().String()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("discoro-server: interrupt received, shutting down")
	a.Shutdown()
	return nil
}
