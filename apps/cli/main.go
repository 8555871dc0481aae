package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/acm19/sortdate/internal/config"
	"github.com/acm19/sortdate/internal/journal"
	"github.com/acm19/sortdate/internal/logger"
	"github.com/acm19/sortdate/internal/pics"
	"github.com/barasher/go-exiftool"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "sortdate",
	Short: "Sort pictures into dated directories using their EXIF capture date",
	Long: `Sortdate moves (or copies) every file of a directory into <dest-dir>/<YYYYMMDD>_<place>,
reading the date from the EXIF DateTimeOriginal tag. With --geo the place name is
looked up from the GPS tags through OpenStreetMap Nominatim (slow, one request per second).`,
	Version: version,
	Args:    cobra.NoArgs,
	Run:     runSort,
}

var sortCmd = &cobra.Command{
	Use:   "sort",
	Short: "Sort pictures into dated directories (same as running sortdate without a command)",
	Args:  cobra.NoArgs,
	Run:   runSort,
}

var renameCmd = &cobra.Command{
	Use:   "rename DIRECTORY PLACE",
	Short: "Change the place label of a dated directory",
	Long:  `Renames a dated directory (format: YYYYMMDD<separator>[place]) keeping the date and replacing the place. Pass "" to remove the place.`,
	Args:  cobra.ExactArgs(2),
	Run:   runRename,
}

var backupCmd = &cobra.Command{
	Use:   "backup DEST_DIR BUCKET",
	Short: "Backup dated directories to S3",
	Long:  `Creates tar.gz archives of each dated directory and uploads them to S3 with deduplication (MD5 hash comparison).`,
	Args:  cobra.ExactArgs(2),
	Run:   runBackup,
}

var restoreCmd = &cobra.Command{
	Use:   "restore BUCKET TARGET_DIR",
	Short: "Restore dated directories from S3",
	Long:  `Downloads and extracts backup archives from S3 with optional date-range filtering.`,
	Args:  cobra.ExactArgs(2),
	Run:   runRestore,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show placements recorded in a journal",
	Args:  cobra.NoArgs,
	Run:   runHistory,
}

var (
	configPath    string
	maxConcurrent int
	fromFilter    string
	toFilter      string
	historyLimit  int
)

func init() {
	addSortFlags(rootCmd)
	addSortFlags(sortCmd)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (default ./sortdate.yaml or ~/.sortdate.yaml)")

	// Rename command flags
	renameCmd.Flags().String(config.KeySeparator, "_", "separator between date and place")
	renameCmd.Flags().Bool(config.KeyTrimEmptyPlace, false, "omit the separator when no place is given")

	// Backup command flags
	backupCmd.Flags().IntVarP(&maxConcurrent, "max-concurrent", "c", 5, "Maximum concurrent operations")

	// Restore command flags
	restoreCmd.Flags().IntVarP(&maxConcurrent, "max-concurrent", "c", 5, "Maximum concurrent operations")
	restoreCmd.Flags().StringVar(&fromFilter, "from", "", "Lower bound in format YYYY or MM/YYYY")
	restoreCmd.Flags().StringVar(&toFilter, "to", "", "Upper bound in format YYYY or MM/YYYY")

	// History command flags
	historyCmd.Flags().String(config.KeyJournal, "", "SQLite journal written by a sort run")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of placements to show (0 for all)")

	rootCmd.AddCommand(sortCmd, renameCmd, backupCmd, restoreCmd, historyCmd)
}

func addSortFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP(config.KeySourceDir, "s", ".", "directory whose files are sorted")
	flags.StringP(config.KeyDestDir, "d", ".", "directory under which dated directories are created")
	flags.BoolP(config.KeyMove, "m", true, "move files (default)")
	flags.BoolP(config.KeyCopy, "c", false, "copy files instead of moving them")
	flags.BoolP(config.KeyGeo, "g", false, "add the place name from GPS tags to directory names (slow)")
	flags.BoolP(config.KeyVerbose, "v", true, "log progress (default)")
	flags.BoolP(config.KeyQuiet, "q", false, "only log warnings and errors")
	flags.String(config.KeyReader, config.ReaderExiftool, "metadata reader: exiftool or goexif")
	flags.String(config.KeySeparator, "_", "separator between date and place")
	flags.Bool(config.KeyTrimEmptyPlace, false, "omit the separator when no place is known")
	flags.String(config.KeyJournal, "", "SQLite file recording every placement")
	flags.Bool(config.KeyProgress, false, "show a progress bar")
	cmd.MarkFlagsMutuallyExclusive(config.KeyMove, config.KeyCopy)
	cmd.MarkFlagsMutuallyExclusive(config.KeyVerbose, config.KeyQuiet)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSort(cmd *cobra.Command, args []string) {
	if err := sortFiles(cmd); err != nil {
		logger.Error("Sort failed", "error", err)
		os.Exit(1)
	}
}

// sortFiles runs the sort pipeline. The summary is printed even when the run
// stops early so the user knows how far it got.
func sortFiles(cmd *cobra.Command) error {
	settings, err := config.Load(cmd.Flags(), configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.SetVerbose(settings.Verbose)
	if settings.ConfigFile != "" {
		logger.Debug("Using configuration file", "path", settings.ConfigFile)
	}

	fileStats := pics.NewFileStats()
	if err := fileStats.ValidateDirectories(settings.SourceDir, settings.DestDir); err != nil {
		return err
	}

	files, err := fileStats.ListCandidates(settings.SourceDir)
	if err != nil {
		return fmt.Errorf("error listing source files: %w", err)
	}

	reader, closeReader := newMetadataReader(settings.Reader)
	defer closeReader()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	deps := pics.OrganiserDeps{Reader: reader}
	if settings.Geo {
		deps.Resolver = pics.NewNominatimResolver(nil, settings.Nominatim)
	}

	if settings.Journal != "" {
		j, err := journal.Open(settings.Journal)
		if err != nil {
			return err
		}
		defer j.Close()
		if _, err := j.BeginRun(ctx, settings.SourceDir, settings.DestDir, settings.Action); err != nil {
			return err
		}
		deps.Recorder = j
	}

	opts := settings.SortOptions()
	var bar *progressBar
	if settings.Progress {
		bar = newProgressBar(len(files), "Sorting")
		opts.ProgressChan = bar.events()
	}

	logger.Info("Starting sort", "source", settings.SourceDir, "dest", settings.DestDir, "files", len(files))
	organiser := pics.NewFileOrganiser(deps, opts)
	stats, err := organiser.Organise(ctx, files)
	bar.finish()

	fmt.Fprintln(cmd.OutOrStdout(), stats.Summary(settings.Action))
	if err != nil {
		return fmt.Errorf("sort stopped early: %w", err)
	}
	return nil
}

// newMetadataReader returns the configured reader and a function releasing it.
// Falls back to the pure Go reader when exiftool cannot be started.
func newMetadataReader(name string) (pics.MetadataReader, func()) {
	if name == config.ReaderGoexif {
		return pics.NewGoexifReader(), func() {}
	}

	et, err := exiftool.NewExiftool()
	if err != nil {
		logger.Warn("Failed to initialise exiftool, falling back to goexif", "error", err)
		return pics.NewGoexifReader(), func() {}
	}
	return pics.NewExiftoolReader(et), func() { et.Close() }
}

func runRename(cmd *cobra.Command, args []string) {
	directory := args[0]
	place := args[1]

	separator, _ := cmd.Flags().GetString(config.KeySeparator)
	trimEmptyPlace, _ := cmd.Flags().GetBool(config.KeyTrimEmptyPlace)

	renamer := pics.NewDirectoryRenamer(separator, trimEmptyPlace)
	newPath, err := renamer.RenameDirectory(directory, place)
	if err != nil {
		logger.Error("Rename failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Rename completed successfully", "path", newPath)
}

func runBackup(cmd *cobra.Command, args []string) {
	sourceDir := args[0]
	bucket := args[1]

	if info, err := os.Stat(sourceDir); err != nil {
		logger.Error("Source directory does not exist", "directory", sourceDir, "error", err)
		os.Exit(1)
	} else if !info.IsDir() {
		logger.Error("Source path is not a directory", "path", sourceDir)
		os.Exit(1)
	}

	ctx := context.Background()
	backup, err := pics.NewS3Backup(ctx)
	if err != nil {
		logger.Error("Failed to initialise backup", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting backup", "source", sourceDir, "bucket", bucket, "max_concurrent", maxConcurrent)
	if err := backup.BackupDirectories(ctx, sourceDir, bucket, maxConcurrent, nil); err != nil {
		logger.Error("Backup failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Backup completed successfully")
}

func runRestore(cmd *cobra.Command, args []string) {
	bucket := args[0]
	targetDir := args[1]

	filter, err := parseRestoreFilter(fromFilter, toFilter)
	if err != nil {
		logger.Error("Invalid filter", "error", err)
		os.Exit(1)
	}

	if info, err := os.Stat(targetDir); err != nil {
		logger.Error("Target directory does not exist", "directory", targetDir, "error", err)
		os.Exit(1)
	} else if !info.IsDir() {
		logger.Error("Target path is not a directory", "path", targetDir)
		os.Exit(1)
	}

	ctx := context.Background()
	backup, err := pics.NewS3Backup(ctx)
	if err != nil {
		logger.Error("Failed to initialise backup", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting restore", "bucket", bucket, "target", targetDir, "max_concurrent", maxConcurrent, "filter", filter)
	if err := backup.RestoreDirectories(ctx, bucket, targetDir, filter, maxConcurrent, nil); err != nil {
		logger.Error("Restore failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Restore completed successfully")
}

func runHistory(cmd *cobra.Command, args []string) {
	path, _ := cmd.Flags().GetString(config.KeyJournal)
	if path == "" {
		logger.Error("--journal is required")
		os.Exit(1)
	}
	if _, err := os.Stat(path); err != nil {
		logger.Error("Journal does not exist", "path", path, "error", err)
		os.Exit(1)
	}

	j, err := journal.Open(path)
	if err != nil {
		logger.Error("Failed to open journal", "error", err)
		os.Exit(1)
	}
	defer j.Close()

	entries, err := j.Recent(cmd.Context(), historyLimit)
	if err != nil {
		j.Close()
		logger.Error("Failed to read journal", "error", err)
		os.Exit(1)
	}

	out := cmd.OutOrStdout()
	for _, e := range entries {
		fmt.Fprintf(out, "%s\trun %d\t%s\t%s -> %s\n", e.PlacedAt.Local().Format("2006-01-02 15:04:05"), e.RunID, e.Action, e.Source, e.Destination)
	}
}

// parseRestoreFilter builds a RestoreFilter from the --from and --to values.
func parseRestoreFilter(from, to string) (pics.RestoreFilter, error) {
	var filter pics.RestoreFilter

	if from != "" {
		year, month, err := parseYearMonth(from)
		if err != nil {
			return filter, fmt.Errorf("invalid --from value %q (expected YYYY or MM/YYYY): %w", from, err)
		}
		filter.FromYear = year
		filter.FromMonth = month
	}

	if to != "" {
		year, month, err := parseYearMonth(to)
		if err != nil {
			return filter, fmt.Errorf("invalid --to value %q (expected YYYY or MM/YYYY): %w", to, err)
		}
		filter.ToYear = year
		filter.ToMonth = month
	}

	return filter, nil
}

// parseYearMonth parses a date string in format "YYYY" or "MM/YYYY".
// Returns (year, month, error). Month is 0 if not specified.
func parseYearMonth(s string) (int, int, error) {
	parts := strings.Split(s, "/")

	switch len(parts) {
	case 1:
		year, err := strconv.Atoi(parts[0])
		if err != nil || year < 1000 || year > 9999 {
			return 0, 0, fmt.Errorf("invalid year: %s", parts[0])
		}
		return year, 0, nil
	case 2:
		month, err := strconv.Atoi(parts[0])
		if err != nil || month < 1 || month > 12 {
			return 0, 0, fmt.Errorf("invalid month (must be 1-12): %s", parts[0])
		}
		year, err := strconv.Atoi(parts[1])
		if err != nil || year < 1000 || year > 9999 {
			return 0, 0, fmt.Errorf("invalid year: %s", parts[1])
		}
		return year, month, nil
	}

	return 0, 0, fmt.Errorf("invalid format (expected YYYY or MM/YYYY): %s", s)
}
