package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"script-studio/api"
	"script-studio/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "script-studio",
	Short: "LLM video script pipeline",
	Long:  `Turns a topic into a validated video script package by running queued, dependency-ordered LLM steps.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is for local dev; deployments set the environment directly
		_ = godotenv.Load()
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the operator HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, err := start(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		srv := &http.Server{
			Addr:    a.cfg.Server.Addr,
			Handler: api.NewHandler(a.projects(), api.HandlerConfig{Logger: a.logger}),
		}

		// The in-memory queue only reaches workers in this process.
		var workerDone chan error
		if a.cfg.Queue.Backend == "memory" {
			a.logger.Printf("[serve] memory queue, running workers in-process")
			workerDone = make(chan error, 1)
			go func() { workerDone <- a.runWorkers(ctx) }()
		}

		serveErr := make(chan error, 1)
		go func() {
			a.logger.Printf("[serve] listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()

		select {
		case err := <-serveErr:
			return err
		case err := <-workerDone:
			srv.Close()
			return fmt.Errorf("workers stopped: %w", err)
		case <-ctx.Done():
		}
		a.logger.Printf("[serve] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if workerDone != nil {
			return <-workerDone
		}
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued steps until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, err := start(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		if err := needSharedQueue(a, "worker"); err != nil {
			return err
		}
		err = a.runWorkers(ctx)
		a.logger.Printf("[worker] ✅ drained, exiting")
		return err
	},
}

var runCmd = &cobra.Command{
	Use:   "run <project-id>",
	Short: "Queue every pipeline step for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, err := start(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		if err := needSharedQueue(a, "run"); err != nil {
			return err
		}
		res, err := a.orchestrator.Run(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var refineCmd = &cobra.Command{
	Use:   "refine <project-id>",
	Short: "Queue script_refine followed by script_qa",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, err := start(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		if err := needSharedQueue(a, "refine"); err != nil {
			return err
		}
		res, err := a.orchestrator.Refine(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, err := start(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		if a.pool == nil {
			return errors.New("migrate needs DATABASE_URL")
		}
		if err := store.Migrate(ctx, a.pool); err != nil {
			return err
		}
		a.logger.Printf("[migrate] ✅ schema applied")
		return nil
	},
}

// start builds the app with a context that is cancelled on SIGINT/SIGTERM.
func start(cmd *cobra.Command) (context.Context, *app, error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	a, err := newApp(ctx, configPath)
	if err != nil {
		stop()
		return nil, nil, err
	}
	return ctx, a, nil
}

// needSharedQueue rejects commands whose work would be lost in a memory
// queue owned by this process alone.
func needSharedQueue(a *app, command string) error {
	if a.cfg.Queue.Backend == "memory" {
		return fmt.Errorf("%s needs queue.backend postgres; with the memory queue use serve", command)
	}
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config file")
	rootCmd.AddCommand(serveCmd, workerCmd, runCmd, refineCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("❌ %v", err)
		os.Exit(1)
	}
}
