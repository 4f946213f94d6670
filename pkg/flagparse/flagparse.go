package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-dedup/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	Config   *string
	Base     *string
	LogLevel *string
	DryRun   *bool
	Metrics  *bool
	Force    *bool

	// Shared: Backup / Rework / Init
	Hash            *string
	ReaderWorkers   *int
	HasherWorkers   *int
	WriterWorkers   *int
	RetryCount      *int
	RetryWait       *int
	ProgressSeconds *int
	BufferBudgetMB  *int

	// Shared: Backup / Init
	Mode            *string
	TodayStyle      *string
	PreBackupHooks  *string
	PostBackupHooks *string

	// Init specific
	Source      *string
	Destination *string
	Exclude     *string
	Default     *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Config = fs.String("config", "", "Path to the job file, or a directory containing pgl-dedup.config.json.")
	f.Base = fs.String("base", "", "Main folder holding the dated backup folders and the stores.")
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
	f.Metrics = fs.Bool("metrics", false, "Enable detailed performance and file-counting metrics.")
	f.Force = fs.Bool("force", false, "Bypass confirmation prompts.")
}

func registerEngineFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Hash = fs.String("hash", "", "Hash algorithm for the stores: 'sha256' or 'blake3'.")
	f.ReaderWorkers = fs.Int("reader-workers", 0, "Number of reader goroutines.")
	f.HasherWorkers = fs.Int("hasher-workers", 0, "Number of hasher goroutines.")
	f.WriterWorkers = fs.Int("writer-workers", 0, "Number of writer goroutines.")
	f.RetryCount = fs.Int("retry-count", 0, "Number of retries for failed file system operations.")
	f.RetryWait = fs.Int("retry-wait", 0, "Seconds to wait between retries.")
	f.ProgressSeconds = fs.Int("progress-seconds", 0, "Seconds between progress reports (0=off).")
	f.BufferBudgetMB = fs.Int("buffer-budget-mb", 0, "Memory in megabytes available for whole-file buffers (0=unlimited).")
}

func registerBackupFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Mode = fs.String("mode", "fast", "Backup mode: 'fast' (trust name, size and time) or 'secure' (hash every file).")
	f.TodayStyle = fs.String("today-style", "", "Name of today's folder: 'datetime', 'date' or 'none'.")
	f.PreBackupHooks = fs.String("pre-backup-hooks", "", "Comma-separated list of commands to run before the backup.")
	f.PostBackupHooks = fs.String("post-backup-hooks", "", "Comma-separated list of commands to run after the backup.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Source = fs.String("source", "", "Source directory of the first entry.")
	f.Destination = fs.String("destination", "", "Destination folder name of the first entry. Defaults to the source's base name.")
	f.Exclude = fs.String("exclude", "", "Comma-separated list of case-insensitive exclude patterns for the first entry (supports '*' and '?').")
	f.Default = fs.Bool("default", false, "Overwrite existing configuration with defaults.")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the action and config map.
func Parse(args []string) (Command, map[string]interface{}, error) {
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}
	if command == Version {
		return command, nil, nil
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
	registerGlobalFlags(fs, f)

	var desc string
	switch command {
	case Backup:
		desc = "Back up all enabled entries into today's folder, deduplicating against the content store."
		registerEngineFlags(fs, f)
		registerBackupFlags(fs, f)
	case Rework:
		desc = "Hard link existing backup folders to the content store."
		registerEngineFlags(fs, f)
	case Prune:
		desc = "Clear the name store and delete content store files no backup links to anymore."
	case Init:
		desc = "Write a new job file."
		registerEngineFlags(fs, f)
		registerBackupFlags(fs, f)
		registerInitFlags(fs, f)
	}

	fs.Usage = func() {
		printSubcommandUsage(command, desc, fs)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	if command == Rework && fs.NArg() > 0 {
		// Rework takes the folders to process as positional arguments.
		flagMap, err := flagsToMap(fs, f)
		if err == nil {
			flagMap["folders"] = fs.Args()
		}
		return command, flagMap, err
	}
	if fs.NArg() > 0 {
		return command, nil, fmt.Errorf("unexpected arguments for %s: %s", command, strings.Join(fs.Args(), " "))
	}

	flagMap, err := flagsToMap(fs, f)
	return command, flagMap, err
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) (map[string]interface{}, error) {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "config", f.Config)
	addIfUsed(flagMap, usedFlags, "base", f.Base)
	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "metrics", f.Metrics)
	addIfUsed(flagMap, usedFlags, "force", f.Force)

	addIfUsed(flagMap, usedFlags, "hash", f.Hash)
	addIfUsed(flagMap, usedFlags, "reader-workers", f.ReaderWorkers)
	addIfUsed(flagMap, usedFlags, "hasher-workers", f.HasherWorkers)
	addIfUsed(flagMap, usedFlags, "writer-workers", f.WriterWorkers)
	addIfUsed(flagMap, usedFlags, "retry-count", f.RetryCount)
	addIfUsed(flagMap, usedFlags, "retry-wait", f.RetryWait)
	addIfUsed(flagMap, usedFlags, "progress-seconds", f.ProgressSeconds)
	addIfUsed(flagMap, usedFlags, "buffer-budget-mb", f.BufferBudgetMB)

	addIfUsed(flagMap, usedFlags, "mode", f.Mode)
	addIfUsed(flagMap, usedFlags, "today-style", f.TodayStyle)

	addIfUsed(flagMap, usedFlags, "source", f.Source)
	addIfUsed(flagMap, usedFlags, "destination", f.Destination)
	addIfUsed(flagMap, usedFlags, "default", f.Default)

	// Handle flags that require parsing/validation.
	addParsedIfUsed(flagMap, usedFlags, "exclude", f.Exclude, ParseExcludeList)
	addParsedIfUsed(flagMap, usedFlags, "pre-backup-hooks", f.PreBackupHooks, ParseCmdList)
	addParsedIfUsed(flagMap, usedFlags, "post-backup-hooks", f.PostBackupHooks, ParseCmdList)

	if v, ok := flagMap["mode"]; ok {
		if m := v.(string); m != "fast" && m != "secure" {
			return nil, fmt.Errorf("invalid mode %q: must be 'fast' or 'secure'", m)
		}
	}
	return flagMap, nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "A deduplicating hard link backup utility.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  backup      Back up all entries into today's folder\n")
	fmt.Fprintf(fs.Output(), "  rework      Hard link existing backup folders to the content store\n")
	fmt.Fprintf(fs.Output(), "  prune       Remove unreferenced store files\n")
	fmt.Fprintf(fs.Output(), "  init        Write a new job file\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "A deduplicating hard link backup utility.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseCmdList parses a comma-separated list of shell-like commands.
// It preserves quotes and handles backslash escapes so they can be interpreted by the shell.
func ParseCmdList(s string) []string {
	return parseListInternal(s, true, true)
}

// ParseExcludeList parses a comma-separated list of patterns.
// Quotes only group items with spaces or commas and are removed.
// Backslashes are literal so Windows paths survive.
func ParseExcludeList(s string) []string {
	return parseListInternal(s, false, false)
}

// parseListInternal splits a comma-separated list. Single (') and double (")
// quotes let items contain commas or spaces.
// - `keepQuotes`: Preserves quote characters in the output.
// - `handleEscapes`: Treats backslashes as escape characters.
func parseListInternal(s string, keepQuotes, handleEscapes bool) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	var isEscaped bool
	for _, r := range s {
		if isEscaped {
			current.WriteRune(r)
			isEscaped = false
			continue
		}

		switch {
		case r == '\\' && handleEscapes:
			isEscaped = true
			// The shell interprets the escape, so the backslash stays.
			current.WriteRune(r)
		case r == '\'' || r == '"':
			switch quoteChar {
			case 0:
				quoteChar = r
				if keepQuotes {
					current.WriteRune(r)
				}
			case r:
				quoteChar = 0
				if keepQuotes {
					current.WriteRune(r)
				}
			default:
				current.WriteRune(r)
			}
		case r == ',' && quoteChar == 0:
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem()
	return list
}
