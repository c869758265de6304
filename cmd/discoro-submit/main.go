// Command discoro-submit schedules a computation against a running
// scheduler, runs the named task kinds once each, prints their handles,
// and waits for completion events before closing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/computation"
	"github.com/ocurero/discoro/internal/transport"
	"github.com/ocurero/discoro/internal/wire"
)

var (
	schedulerAddr string
	funcNames     []string
	dockerTasks   []string
	xferFiles     []string
	pulseInterval time.Duration
	timeout       time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "discoro-submit",
	Short: "Schedule and run a computation against a discoro scheduler",
	RunE:  run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&schedulerAddr, "scheduler", "", "scheduler's addr:port")
	f.StringSliceVar(&funcNames, "func", nil, "in-process task kind name to run once (repeatable)")
	f.StringSliceVar(&dockerTasks, "docker_task", nil, "name=image task kind to run once (repeatable)")
	f.StringSliceVar(&xferFiles, "file", nil, "local file to ship to every server (repeatable)")
	f.DurationVar(&pulseInterval, "pulse_interval", 10*time.Second, "liveness heartbeat period")
	f.DurationVar(&timeout, "timeout", 30*time.Second, "per-RPC request timeout")
	rootCmd.MarkFlagRequired("scheduler")
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

	schedLoc, err := wire.ParseLocation(schedulerAddr)
	if err != nil {
		return fmt.Errorf("--scheduler: %w", err)
	}

	t, err := transport.New("0.0.0.0", 0, transport.Options{}, logger)
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer t.Close()

	var components []computation.Component
	runNames := append([]string(nil), funcNames...)
	for _, name := range funcNames {
		components = append(components, computation.Func(name))
	}
	for _, pair := range dockerTasks {
		name, image, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("--docker_task %q must be name=image", pair)
		}
		components = append(components, computation.DockerImage(name, image))
		runNames = append(runNames, name)
	}
	for _, path := range xferFiles {
		components = append(components, computation.File(path))
	}

	done := make(chan struct{})
	comp, err := computation.New(computation.Options{
		Transport:     t,
		Logger:        logger,
		PulseCoro:     t.Self(),
		Observer:      t.Self(),
		PulseInterval: pulseInterval,
		Timeout:       timeout,
		OnSchedulerDead: func() {
			logger.Warn("discoro-submit: scheduler declared dead, exiting")
			close(done)
		},
	}, components...)
	if err != nil {
		return fmt.Errorf("build computation: %w", err)
	}
	comp.OnStatus(func(st wire.DiscoroStatus) {
		logger.Info("discoro-submit: status", zap.String("status", st.Status.String()), zap.String("handle", st.Handle))
		if st.Status == wire.ComputationClosed {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := comp.Schedule(ctx, schedLoc); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	defer comp.Close(context.Background())

	for _, name := range runNames {
		handle, term, err := comp.RunAt(context.Background(), name, wire.RunTarget{Kind: wire.RunTargetAny}, nil, nil)
		if err != nil {
			logger.Warn("discoro-submit: run failed", zap.String("func", name), zap.Error(err))
			continue
		}
		if term != nil {
			logger.Info("discoro-submit: task finished before its run reply arrived",
				zap.String("func", name), zap.String("status", term.Status.String()))
			continue
		}
		fmt.Printf("%s -> %s\n", name, handle)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-done:
	case <-sigCh:
		logger.Info("discoro-submit: interrupt received, closing computation")
	}
	return nil
}
