package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"singrar/internal/config"
	"singrar/internal/logging"
	"singrar/internal/store"
	"singrar/internal/web"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "singrar",
	Short: "Vessel safety engine: anchor watch, peer radar and collision alarm",
	Long: `singrar tracks the own vessel position, watches the anchor geofence,
exchanges positions with nearby vessels and raises a collision alarm when a
moving peer comes too close.

Examples:
  singrar run --config ./singrar.yaml
  singrar tracks list
  singrar tracks show 3f1c2a`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the safety engine and its HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), configPath)
	},
}

var tracksCmd = &cobra.Command{
	Use:   "tracks",
	Short: "Inspect recorded tracks",
}

var tracksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved tracks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			return listTracks(ctx, st, cmd.OutOrStdout())
		})
	},
}

var tracksShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one track with its points as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			return showTrack(ctx, st, args[0], cmd.OutOrStdout())
		})
	},
}

var tracksDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved track",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			if err := st.DeleteTrack(ctx, args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return err
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./singrar.yaml", "path to YAML config")
	tracksCmd.AddCommand(tracksListCmd, tracksShowCmd, tracksDeleteCmd)
	rootCmd.AddCommand(runCmd, tracksCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	logs := logging.NewLogBuffer(cfg.Log.BufferLines)
	log := logging.New(cfg.Log.Level, os.Stderr, logs)

	eng, err := newEngine(cfg, log, logs)
	if err != nil {
		return err
	}
	defer eng.close()

	log.Info().
		Str("config", path).
		Str("gps_source", cfg.GPS.Source).
		Str("radar_transport", cfg.Radar.Transport).
		Bool("weather", cfg.Weather.Enable).
		Msg("singrar starting")

	if err := eng.start(ctx); err != nil {
		return err
	}

	if cfg.Web.Disable {
		<-ctx.Done()
	} else {
		log.Info().Str("listen", cfg.Web.Listen).Msg("http api listening")
		err := web.Serve(ctx, cfg.Web.Listen, eng.handler())
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http api: %w", err)
		}
	}
	log.Info().Msg("singrar stopping")
	return nil
}

// withStore opens the configured track store for a one-shot command.
func withStore(ctx context.Context, fn func(context.Context, *store.Store) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	st, err := store.Open(cfg.Store.Path, zerolog.Nop())
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

func listTracks(ctx context.Context, st *store.Store, out io.Writer) error {
	list, err := st.ListTracks(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED\tPOINTS\tDISTANCE_NM\tVISIBLE")
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%t\n",
			t.ID, t.Name, t.CreatedAt.UTC().Format(time.RFC3339), t.Points, t.DistanceNM, t.Visible)
	}
	return tw.Flush()
}

func showTrack(ctx context.Context, st *store.Store, id string, out io.Writer) error {
	t, err := st.GetTrack(ctx, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}
