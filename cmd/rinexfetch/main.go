package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jgivc/rinexfetch/internal/app"
	"github.com/jgivc/rinexfetch/internal/config"
	"github.com/jgivc/rinexfetch/internal/entity"
	"github.com/jgivc/rinexfetch/internal/service/pipeline"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const (
	exitOK     = 0
	exitError  = 1
	exitFailed = 2
)

var errIncomplete = errors.New("run did not complete cleanly")

var (
	configFile  string
	startDate   string
	endDate     string
	prefixes    string
	fileType    string
	destination string
	concurrency int
	noProgress  bool
)

var rootCmd = &cobra.Command{
	Use:           "rinexfetch",
	Short:         "Download RINEX files from a day-organised GNSS archive",
	Long:          `Lists the YEAR/DOY folders of a GNSS data archive for a range of dates and downloads the files whose names start with the given prefixes.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDownload,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show download statistics recorded in redis",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yml", "Path to config file")

	rootCmd.Flags().StringVar(&startDate, "start", "", "First day to download, YYYY-MM-DD")
	rootCmd.Flags().StringVar(&endDate, "end", "", "Last day to download, YYYY-MM-DD (default: start)")
	rootCmd.Flags().StringVar(&prefixes, "prefixes", entity.Wildcard, "Comma separated file name prefixes or \"all\"")
	rootCmd.Flags().StringVar(&fileType, "type", config.FileTypeObs, "File type, e.g. obs or nav")
	rootCmd.Flags().StringVar(&destination, "dest", ".", "Destination directory")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel downloads (default: from config)")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Do not draw a progress bar")
	_ = rootCmd.MarkFlagRequired("start")

	rootCmd.AddCommand(statsCmd)
}

func main() {
	os.Exit(execute())
}

func execute() int {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errIncomplete) {
			return exitFailed
		}

		fmt.Fprintln(os.Stderr, "Error:", err)

		return exitError
	}

	return exitOK
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	dest, err := filepath.Abs(destination)
	if err != nil {
		return fmt.Errorf("cannot resolve destination %s: %w", destination, err)
	}

	if endDate == "" {
		endDate = startDate
	}

	ctx, cancel := withSignals(cmd.Context(), cmd.ErrOrStderr())
	defer cancel()

	req := pipeline.Request{
		Start:       startDate,
		End:         endDate,
		Prefixes:    prefixes,
		FileType:    fileType,
		Destination: dest,
		Concurrency: concurrency,
	}

	var bar *progressbar.ProgressBar
	if !noProgress {
		req.OnProgress = func(completed, total int) {
			if bar == nil {
				bar = newProgressBar(total, cmd.ErrOrStderr())
			}
			_ = bar.Set(completed)
		}
	}

	summary, err := a.Run(ctx, req)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), summary)

	if summary.Failed > 0 || summary.Interrupted {
		return errIncomplete
	}

	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	stations, totals, err := a.Stats(cmd.Context())
	if err != nil {
		return err
	}

	printStats(cmd.OutOrStdout(), stations, totals)

	return nil
}

// withSignals cancels the returned context on SIGINT or SIGTERM. Downloads in flight finish
// or time out, nothing new is started.
func withSignals(parent context.Context, w io.Writer) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-c:
			fmt.Fprintln(w, "\nReceived termination signal. Finishing downloads in progress...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(c)
		cancel()
	}
}

func newProgressBar(total int, w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Downloading"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
}
