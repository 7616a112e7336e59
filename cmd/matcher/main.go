package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propmatch/internal/audience"
	"github.com/propmatch/internal/config"
	"github.com/propmatch/internal/dataset"
	"github.com/propmatch/internal/debug"
	"github.com/propmatch/internal/export"
	"github.com/propmatch/internal/matcher"
	"github.com/propmatch/internal/store"
)

var (
	settings *config.Settings
	logger   *zap.Logger
)

func main() {
	var err error

	settings, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err = debug.NewLogger(settings.LogLevel, settings.LogFormat, "matcher")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	debug.SetLogger(logger)

	rootCmd := &cobra.Command{
		Use:   "matcher",
		Short: "Property/permit matching and audience building",
		Long:  `Matches vendor property exports to building permits by address and builds marketing audiences from the matches`,
	}

	rootCmd.AddCommand(createMatchCmd())
	rootCmd.AddCommand(createBuildCmd())
	rootCmd.AddCommand(createAudienceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// createMatchCmd creates the match subcommand. Regions, paths and worker
// counts all come from the environment.
func createMatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match",
		Short: "Match every configured region's properties to permits",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext()
			defer cancel()

			registry := prometheus.NewRegistry()
			metrics := matcher.NewMetrics(registry)
			engine := matcher.NewEngine(settings.Workers, settings.BatchSize, logger, metrics)
			engine.SetDebug(settings.Debug)
			driver := matcher.NewDriver(settings, engine, logger, metrics)

			stats, err := driver.Run(ctx)
			for _, s := range stats {
				fmt.Printf("%s: %d properties, %d candidates, %d unique, %d matches written to %s (%v)\n",
					s.Region, s.Input, s.Candidates, s.Unique, s.Matches,
					settings.RegionMatchFile(s.Region), s.ProcessingTime)
			}

			if path := config.GetEnv("PROPMATCH_METRICS_FILE", ""); path != "" {
				if werr := prometheus.WriteToTextfile(path, registry); werr != nil {
					logger.Error("failed to write metrics", zap.String("path", path), zap.Error(werr))
				}
			}

			if err != nil {
				logger.Fatal("match run failed", zap.Error(err))
			}
		},
	}
}

func loadEngine() (*audience.Engine, error) {
	defer debug.DebugTiming(settings.Debug, "load dataset")()

	ds, err := dataset.Load(settings.MatchFiles(), logger)
	if err != nil {
		return nil, err
	}
	engine := audience.NewEngine(ds, logger)
	engine.SetDebug(settings.Debug)
	return engine, nil
}

// createBuildCmd creates the build subcommand
func createBuildCmd() *cobra.Command {
	var filtersFile, saveAs string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an audience from a filter JSON file and print its counts",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()

			var filters audience.FilterConfig
			if filtersFile != "" {
				data, err := os.ReadFile(filtersFile)
				if err != nil {
					logger.Fatal("failed to read filters", zap.Error(err))
				}
				filters, err = audience.ParseFilterConfig(data)
				if err != nil {
					logger.Fatal("invalid filters", zap.Error(err))
				}
			}

			engine, err := loadEngine()
			if err != nil {
				logger.Fatal("failed to load dataset", zap.Error(err))
			}

			s, err := store.Open(ctx, settings, logger)
			if err != nil {
				logger.Fatal("failed to open audience store", zap.Error(err))
			}
			defer s.Close()

			exclude, err := store.Excluded(ctx, s)
			if err != nil {
				logger.Fatal("failed to read saved audiences", zap.Error(err))
			}

			result, err := engine.BuildAudience(filters.Property, filters.Permit, exclude)
			if err != nil {
				logger.Fatal("audience build failed", zap.Error(err))
			}

			fmt.Printf("Total available properties: %d\n", result.TotalProperties)
			fmt.Printf("Properties matching filters: %d\n", result.MatchingProperties)
			fmt.Printf("Permits matching filters: %d\n", result.MatchingPermits)
			fmt.Printf("Final matches: %d\n", result.FinalMatches)

			if saveAs != "" {
				a := store.Audience{Name: saveAs, Properties: result.PropertyIDs()}
				if err := s.Save(ctx, a); err != nil {
					logger.Fatal("failed to save audience", zap.Error(err))
				}
				fmt.Printf("Saved audience %s with %d properties\n", saveAs, len(a.Properties))
			}
		},
	}

	cmd.Flags().StringVar(&filtersFile, "filters", "", "Filter configuration JSON file")
	cmd.Flags().StringVar(&saveAs, "save", "", "Save the result under this audience name")
	return cmd
}

// createAudienceCmd creates the audience subcommand
func createAudienceCmd() *cobra.Command {
	audienceCmd := &cobra.Command{
		Use:   "audience",
		Short: "Manage saved audiences",
	}

	audienceCmd.AddCommand(createAudienceListCmd())
	audienceCmd.AddCommand(createAudienceShowCmd())
	audienceCmd.AddCommand(createAudienceDeleteCmd())
	audienceCmd.AddCommand(createAudienceDeleteAllCmd())
	audienceCmd.AddCommand(createAudienceExportCmd())

	return audienceCmd
}

func openStore(ctx context.Context) store.Store {
	s, err := store.Open(ctx, settings, logger)
	if err != nil {
		logger.Fatal("failed to open audience store", zap.Error(err))
	}
	return s
}

func createAudienceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved audiences",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			defer s.Close()

			audiences, err := s.List(cmd.Context())
			if err != nil {
				logger.Fatal("failed to list audiences", zap.Error(err))
			}
			if len(audiences) == 0 {
				fmt.Println("No saved audiences")
				return
			}
			for _, a := range audiences {
				fmt.Printf("%-30s %8d properties  %s\n", a.Name, len(a.Properties), a.CreatedAt.Format("2006-01-02 15:04"))
			}
		},
	}
}

func createAudienceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [name]",
		Short: "Show a saved audience's summary",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			defer s.Close()

			a, err := s.Load(cmd.Context(), args[0])
			if err != nil {
				logger.Fatal("failed to load audience", zap.Error(err))
			}
			engine, err := loadEngine()
			if err != nil {
				logger.Fatal("failed to load dataset", zap.Error(err))
			}

			summary := engine.Summary(a.Properties)
			fmt.Printf("Audience: %s\n", a.Name)
			fmt.Printf("Total properties: %d\n", summary.TotalProperties)
			printMean("Average square footage", summary.AvgSqft)
			printMean("Average year built", summary.AvgYearBuilt)
			printMean("Average beds", summary.AvgBeds)
			printMean("Average baths", summary.AvgBaths)
			fmt.Println("Property types:")
			for t, n := range summary.PropertyTypes {
				fmt.Printf("  %-20s %d\n", t, n)
			}
			fmt.Println("States:")
			for st, n := range summary.States {
				fmt.Printf("  %-20s %d\n", st, n)
			}
		},
	}
}

func printMean(label string, v *float64) {
	if v == nil {
		fmt.Printf("%s: n/a\n", label)
		return
	}
	fmt.Printf("%s: %.1f\n", label, *v)
}

func createAudienceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a saved audience",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			defer s.Close()

			if err := s.Delete(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					fmt.Printf("Audience %s not found\n", args[0])
					return
				}
				logger.Fatal("failed to delete audience", zap.Error(err))
			}
			fmt.Printf("Deleted audience %s\n", args[0])
		},
	}
}

func createAudienceDeleteAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every saved audience",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			defer s.Close()

			if err := s.DeleteAll(cmd.Context()); err != nil {
				logger.Fatal("failed to delete audiences", zap.Error(err))
			}
			fmt.Println("Deleted all audiences")
		},
	}
}

func createAudienceExportCmd() *cobra.Command {
	var format, output string
	var minYear, maxYear int

	cmd := &cobra.Command{
		Use:   "export [name]",
		Short: "Export a saved audience with its permits as CSV or XLSX",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if format != "csv" && format != "xlsx" {
				logger.Fatal("unsupported export format", zap.String("format", format))
			}

			s := openStore(cmd.Context())
			defer s.Close()

			a, err := s.Load(cmd.Context(), args[0])
			if err != nil {
				logger.Fatal("failed to load audience", zap.Error(err))
			}
			engine, err := loadEngine()
			if err != nil {
				logger.Fatal("failed to load dataset", zap.Error(err))
			}

			var permitFilter audience.PermitFilter
			if cmd.Flags().Changed("min-permit-year") {
				permitFilter.MinPermitYear = audience.Int(minYear)
			}
			if cmd.Flags().Changed("max-permit-year") {
				permitFilter.MaxPermitYear = audience.Int(maxYear)
			}
			if err := permitFilter.Validate(); err != nil {
				logger.Fatal("invalid permit filter", zap.Error(err))
			}

			permits, err := engine.AnnotatedPermits(permitFilter)
			if err != nil {
				logger.Fatal("permit filter failed", zap.Error(err))
			}
			table, err := export.Build(engine.Dataset(), a.Properties, permits)
			if err != nil {
				logger.Fatal("failed to build export", zap.Error(err))
			}

			if output == "" {
				output = a.Name + "." + format
			}
			if err := writeExport(output, format, table); err != nil {
				logger.Fatal("failed to write export", zap.Error(err))
			}
			fmt.Printf("Exported %d properties to %s\n", len(table.Rows), output)
		},
	}

	cmd.Flags().StringVar(&format, "format", "csv", "Export format: csv or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <name>.<format>)")
	cmd.Flags().IntVar(&minYear, "min-permit-year", 0, "Only list permits filed in or after this year")
	cmd.Flags().IntVar(&maxYear, "max-permit-year", 0, "Only list permits filed in or before this year")
	return cmd
}

func writeExport(path, format string, table *export.Table) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if format == "xlsx" {
		return table.WriteXLSX(f)
	}
	return table.WriteCSV(f)
}
