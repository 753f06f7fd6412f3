// Command coordkit runs and inspects the in-process coordination runtime.
//
// Usage:
//
//	coordkit demo --tasks 5        # run an echo workflow end to end
//	coordkit serve                 # run until SIGINT/SIGTERM
//	coordkit config                # print the effective configuration
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/coordkit/bus"
	"github.com/vinayprograms/coordkit/config"
	"github.com/vinayprograms/coordkit/coord"
	"github.com/vinayprograms/coordkit/tasks"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "coordkit",
		Short:         "In-process message bus and task manager for agent tooling",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.toml, .yaml or .yml)")

	load := func() (config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(newDemoCmd(load), newServeCmd(load), newConfigCmd(load))
	return root
}

type loader func() (config.Config, error)

func newConfigCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return cfg.WriteTOML(cmd.OutOrStdout())
		},
	}
}

func newDemoCmd(load loader) *cobra.Command {
	var count int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run echo tasks through the bus and task manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runDemo(ctx, cmd, cfg, count)
		},
	}
	cmd.Flags().IntVarP(&count, "tasks", "n", 3, "number of echo requests to publish")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "give up after this long")
	return cmd
}

// runDemo publishes echo requests on the bus, lets EnqueueOnMessage turn them
// into tasks, and waits for every completion notification.
func runDemo(ctx context.Context, cmd *cobra.Command, cfg config.Config, count int) error {
	rt, err := coord.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Stop(context.Background())

	if err := rt.Tasks.RegisterHandler("echo", rt.NotifyOnCompletion(echoHandler())); err != nil {
		return err
	}
	if _, err := rt.EnqueueOnMessage("echo.requested", "echo", "demo"); err != nil {
		return err
	}

	done := make(chan coord.Outcome, count)
	if err := rt.Bus.Subscribe(coord.TopicTaskCompleted, bus.NewSubscriber(func(ctx context.Context, msg *bus.Message) error {
		done <- msg.Payload.(coord.Outcome)
		return nil
	})); err != nil {
		return err
	}

	rt.Start(ctx)

	for i := 1; i <= count; i++ {
		msg := bus.NewMessage("demo", "echo.requested", map[string]interface{}{"n": i})
		if err := rt.Bus.Publish(msg); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for i := 0; i < count; i++ {
		select {
		case o := <-done:
			fmt.Fprintf(out, "%s %s -> %v\n", o.TaskID, o.Status, o.Result)
		case <-ctx.Done():
			return fmt.Errorf("waiting for completions: %w", ctx.Err())
		}
	}

	info := rt.Tasks.QueueInfo()
	fmt.Fprintf(out, "total=%d completed=%d failed=%d\n",
		info.TotalTasks, info.StatusCounts[tasks.StatusCompleted], info.StatusCounts[tasks.StatusFailed])
	return nil
}

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the runtime with the built-in echo handler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			rt, err := coord.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := rt.Tasks.RegisterHandler("echo", rt.NotifyOnCompletion(echoHandler())); err != nil {
				return err
			}
			if _, err := rt.EnqueueOnMessage("echo.requested", "echo", "serve"); err != nil {
				return err
			}

			rt.Start(context.Background())
			rt.Shutdown.HandleSignals()
			<-rt.Shutdown.Done()

			if result := rt.Shutdown.Result(); result != nil && result.Failed() {
				return fmt.Errorf("shutdown failed: %v", result.FailedHandlers())
			}
			return nil
		},
	}
}

func echoHandler() tasks.Handler {
	return tasks.NewHandler(func(ctx context.Context, t *tasks.Task) (interface{}, error) {
		return map[string]interface{}{"got": t.Params}, nil
	})
}
