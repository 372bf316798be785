package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andreyvit/objdb"
)

const Version = "0.3.0"

const (
	// wrap is the number of characters to wrap the help text at
	wrap int = 50
)

// wrapString wraps a string at wrap characters
func wrapString(text string) string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// app carries the configuration shared by all commands. Values come from
// flags, OBJDB_* environment variables and .env files, in that order of
// precedence.
type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "objdb",
		Short: "inspect and maintain objdb databases",
		Long: fmt.Sprintf(`objdb (v%s)

Inspects the type table, store manifest and key lists of an objdb
database stored with the fs, bolt or sqlite driver. Every flag can also be
set via the environment as OBJDB_<FLAG> (e.g. OBJDB_DRIVER=bolt).`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: a.processConfig,
	}

	key := "driver"
	root.PersistentFlags().String(key, "fs", wrapString("Storage driver the database was written with (fs, bolt, sqlite)"))
	key = "path"
	root.PersistentFlags().String(key, "data", wrapString("Database location: a directory for fs, a file for bolt and sqlite"))
	key = "format"
	root.PersistentFlags().String(key, "text", wrapString("Output format (text, yaml)"))
	key = "timeout"
	root.PersistentFlags().Int(key, 5, wrapString("Seconds to wait for the bolt file lock"))
	key = "no-sync"
	root.PersistentFlags().Bool(key, false, wrapString("Skip fsync on writes (fs and bolt only)"))
	key = "log-level"
	root.PersistentFlags().String(key, "warn", wrapString("Log level (debug, info, warn, error)"))

	root.AddCommand(
		a.typesCmd(),
		a.storesCmd(),
		a.keysCmd(),
		a.purgeCmd(),
		versionCmd(),
	)
	return root
}

// processConfig loads env files and binds the flags of the running command
// to viper.
func (a *app) processConfig(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	a.v.SetEnvPrefix("objdb")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(a.v.GetString("log-level"))); err != nil {
		return fmt.Errorf("invalid log level %q", a.v.GetString("log-level"))
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	switch f := a.v.GetString("format"); f {
	case "text", "yaml":
	default:
		return fmt.Errorf("invalid format %s", f)
	}
	return nil
}

// openDriver opens the configured database. The database must already exist.
func (a *app) openDriver() (objdb.Driver, error) {
	path := a.v.GetString("path")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}
	switch d := a.v.GetString("driver"); d {
	case "fs":
		return objdb.NewFileDriver(path, objdb.FileOptions{
			NoSync: a.v.GetBool("no-sync"),
			Logger: slog.Default(),
		})
	case "bolt":
		return objdb.NewBoltDriver(path, objdb.BoltOptions{
			Timeout: time.Duration(a.v.GetInt("timeout")) * time.Second,
			NoSync:  a.v.GetBool("no-sync"),
		})
	case "sqlite":
		return objdb.NewSQLiteDriver(path)
	default:
		return nil, fmt.Errorf("invalid driver %s", d)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of objdb",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "objdb v%s\n", Version)
		},
	}
}
