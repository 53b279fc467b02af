package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dictor/get621/internal/config"
	"github.com/dictor/get621/internal/e621"
	"github.com/dictor/get621/internal/iqdb"
	"github.com/dictor/get621/internal/output"
	"github.com/dictor/get621/internal/pipeline"
	"github.com/dictor/get621/internal/storage"
)

type outputFlags struct {
	parents, children bool
	save              bool
	mode              string
}

func (f *outputFlags) register(cmd *cobra.Command, saveHelp string) {
	cmd.Flags().BoolVarP(&f.parents, "parents", "p", false, "take the parent post of each result, if any")
	cmd.Flags().BoolVarP(&f.children, "children", "c", false, "take the children of each result")
	cmd.Flags().BoolVarP(&f.save, "save", "s", false, saveHelp)
	cmd.Flags().StringVarP(&f.mode, "output", "o", "verbose", "output mode; one of: id, json, raw, verbose")
	cmd.MarkFlagsMutuallyExclusive("parents", "children")
}

func (f *outputFlags) relationMode() pipeline.Mode {
	switch {
	case f.parents:
		return pipeline.ModeParents
	case f.children:
		return pipeline.ModeChildren
	default:
		return pipeline.ModeNone
	}
}

func rootCommand() *cobra.Command {
	var (
		flags outputFlags
		limit int
		debug bool
	)
	root := &cobra.Command{
		Use:           "get621 [flags] [--] [tags...]",
		Short:         "E621/926 command line tool",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug || cfg.Debug {
				Logger.SetLevel(logrus.DebugLevel)
			}
			cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("limit must be a positive integer, got %d", limit)
			}
			return execQuery(cmd.Context(), flags, pipeline.TagQuery{Tags: args, Limit: limit})
		},
	}
	root.PersistentFlags().StringVarP(&cfg.BaseURL, "url", "u", cfg.BaseURL, "the URL of the server where requests should be made")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "print debug log")
	root.Flags().IntVarP(&limit, "limit", "l", 1, "maximum search result count")
	flags.register(root, "download every result to <post_id>.<ext>")

	root.AddCommand(poolCommand(), reverseCommand())
	return root
}

func poolCommand() *cobra.Command {
	var flags outputFlags
	cmd := &cobra.Command{
		Use:   "pool <id>",
		Short: "Pool related commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("pool id must be a positive integer, got %q", args[0])
			}
			return execQuery(cmd.Context(), flags, pipeline.PoolQuery{ID: id})
		},
	}
	flags.register(cmd, "download every post to <pool_id>-<index>_<post_id>.<ext>")
	return cmd
}

func reverseCommand() *cobra.Command {
	var (
		flags      outputFlags
		similarity float64
		direct     bool
	)
	cmd := &cobra.Command{
		Use:   "reverse <source>...",
		Short: "Similar image search",
		Long:  "Search posts similar to local images. Sources can be files, folders or glob patterns.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if similarity < 0 || similarity > 100 {
				return fmt.Errorf("similarity must be between 0 and 100, got %g", similarity)
			}
			strategy := pipeline.StrategyResolved
			if direct {
				strategy = pipeline.StrategyDirect
				flags.save = true
			}
			return execReverse(cmd.Context(), flags, args, similarity, strategy)
		},
	}
	cmd.Flags().Float64VarP(&similarity, "similarity", "S", 90, "similarity threshold for matching posts (in percents)")
	cmd.Flags().BoolVarP(&direct, "direct-save", "d", false, "download matches directly without requesting post information (faster)")
	flags.register(cmd, "download all matching posts to <post_id>.<ext>")
	cmd.MarkFlagsMutuallyExclusive("direct-save", "output")
	cmd.MarkFlagsMutuallyExclusive("direct-save", "parents")
	cmd.MarkFlagsMutuallyExclusive("direct-save", "children")
	return cmd
}

/*
builds the whole pipeline from the configuration; the store is only
created when something will be written
*/
func newRunner(save bool) (*pipeline.Runner, error) {
	// the api and iqdb live on the same host
	throttle := e621.Throttle(cfg.RequestInterval)
	api := e621.NewClient(e621.Options{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
		Login:     cfg.Login,
		APIKey:    cfg.APIKey,
		Throttle:  throttle,
	}, Logger)

	var decoder iqdb.Decoder = iqdb.JSONDecoder{}
	if cfg.IqdbFormat == "html" {
		decoder = iqdb.HTMLDecoder{}
	}
	similar := iqdb.NewClient(iqdb.Options{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
		Decoder:   decoder,
		Throttle:  throttle,
	}, Logger)

	runner := &pipeline.Runner{
		Resolver: &pipeline.Resolver{API: api, Similar: similar, Workers: cfg.Workers, Log: Logger},
		Sink:     &output.Sink{W: os.Stdout, Downloader: api, Log: Logger},
		Log:      Logger,
	}
	if save {
		store, err := storage.NewLocal(cfg.OutputDir)
		if err != nil {
			return nil, err
		}
		runner.Saver = &storage.Saver{Store: store, Downloader: api, Workers: cfg.Workers, Log: Logger}
		runner.Direct = &storage.DirectDownloader{Store: store, Downloader: api, Workers: cfg.Workers, Log: Logger}
	}
	return runner, nil
}

func execQuery(ctx context.Context, flags outputFlags, query pipeline.Query) error {
	mode, err := output.ParseMode(flags.mode)
	if err != nil {
		return err
	}
	runner, err := newRunner(flags.save)
	if err != nil {
		return err
	}
	report, err := runner.Run(ctx, pipeline.Job{
		Query:  query,
		Mode:   flags.relationMode(),
		Output: mode,
		Save:   flags.save,
	})
	if err != nil {
		return err
	}
	logReport(report)
	return nil
}

/*
args = [files, folders or glob patterns]
*/
func execReverse(ctx context.Context, flags outputFlags, sources []string, similarity float64, strategy pipeline.Strategy) error {
	mode, err := output.ParseMode(flags.mode)
	if err != nil {
		return err
	}
	filePaths, err := expandPaths(sources)
	if err != nil {
		return err
	}
	Logger.Debugf("%d images will be searched", len(filePaths))

	runner, err := newRunner(flags.save)
	if err != nil {
		return err
	}
	for _, path := range filePaths {
		report, err := runner.Run(ctx, pipeline.Job{
			Query:    pipeline.ReverseQuery{Path: path, MinSimilarity: similarity},
			Mode:     flags.relationMode(),
			Output:   mode,
			Save:     flags.save,
			Strategy: strategy,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		logReport(report)
		if strategy == pipeline.StrategyResolved && mode == output.ModeVerbose {
			fmt.Println()
		}
	}
	return nil
}

func logReport(report *pipeline.Report) {
	if len(report.Failures) == 0 {
		return
	}
	Logger.WithFields(logrus.Fields{
		"posts":  report.Posts,
		"failed": len(report.Failures),
	}).Warnln("some posts could not be processed")
}
