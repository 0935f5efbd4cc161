package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MimeLyc/contextual-book-translator/internal/config"
	"github.com/MimeLyc/contextual-book-translator/internal/persistence"
	"github.com/MimeLyc/contextual-book-translator/internal/service"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

const envPrefix = "BOOKTRANS"

var version = "0.1.0"

// cli carries the flag bindings shared by every subcommand.
type cli struct {
	v          *viper.Viper
	fileLogger *log.FileLogger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "booktrans",
		Short: "Resumable LLM translation of XHTML books",
		Long: `Translates the XHTML documents of an unpacked book through a pool of
chat-completion endpoints. Progress is checkpointed per document so an
interrupted run resumes where it stopped.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.fileLogger != nil {
				_ = c.fileLogger.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Config file whose keys act as environment defaults (yaml, toml or json)")
	flags.String("env-file", ".env", "Dotenv file loaded before the environment is read")
	flags.String("data-dir", "", "Data directory holding the database and settings (overrides DATA_DIR)")
	flags.String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flags.String("log-file", "", "Also append log output to this file")

	root.AddCommand(
		newImportCmd(c),
		newRunCmd(c),
		newResumeCmd(c),
		newStatusCmd(c),
		newExportCmd(c),
		newServeCmd(c),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	if err := c.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	if err := loadDotenv(c.v.GetString("env-file")); err != nil {
		return err
	}
	if path := c.v.GetString("config"); path != "" {
		if err := applyConfigFile(path); err != nil {
			return err
		}
	}

	level := c.v.GetString("log-level")
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	log.InitLogger(log.ParseLevel(level))
	if path := c.v.GetString("log-file"); path != "" {
		fl, err := log.NewFileLogger(path, log.ParseLevel(level))
		if err != nil {
			return err
		}
		c.fileLogger = fl
		log.SetLogger(fl.Logger)
	}
	return nil
}

func loadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyConfigFile exports every key of the file as an environment variable
// unless the environment already sets it. Nested keys are joined with an
// underscore, so llm.api_urls becomes LLM_API_URLS.
func applyConfigFile(path string) error {
	fv := viper.New()
	fv.SetConfigFile(path)
	if err := fv.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	for _, key := range fv.AllKeys() {
		env := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
		if _, set := os.LookupEnv(env); set {
			continue
		}
		var value string
		switch raw := fv.Get(key).(type) {
		case []any:
			parts := make([]string, 0, len(raw))
			for _, p := range raw {
				parts = append(parts, fmt.Sprint(p))
			}
			value = strings.Join(parts, ",")
		default:
			value = fv.GetString(key)
		}
		if err := os.Setenv(env, value); err != nil {
			return err
		}
	}
	log.Debug("Applied config file %s", path)
	return nil
}

// overrides turns bound flags into config options.
func (c *cli) overrides() config.Option {
	return func(cfg *config.Config) {
		if dir := c.v.GetString("data-dir"); dir != "" {
			cfg.System.DataDir = dir
		}
		if addr := c.v.GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}
	}
}

// app is the wired service of one command invocation.
type app struct {
	cfg      *config.Config
	store    *persistence.SQLiteStore
	settings *config.RuntimeSettingsStore
	svc      *service.Service
}

func (c *cli) newApp(opts ...service.Option) (*app, error) {
	cfg, err := config.NewFromEnv(c.overrides())
	if err != nil {
		return nil, service.WrapError(err, service.ErrConfig, "load configuration")
	}
	if err := os.MkdirAll(cfg.System.DataDir, 0o755); err != nil {
		return nil, service.WrapError(err, service.ErrFileWrite, "create data dir")
	}

	settingsPath := cfg.RuntimeSettingsFilePath()
	if saved, err := config.LoadRuntimeSettingsFile(settingsPath); err == nil {
		cfg, err = config.NewFromEnv(c.overrides(), config.WithRuntimeSettings(saved))
		if err != nil {
			return nil, service.WrapError(err, service.ErrConfig, "apply runtime settings")
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Ignoring runtime settings %s: %v", settingsPath, err)
	}
	settings, err := config.NewRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		return nil, service.WrapError(err, service.ErrConfig, "runtime settings")
	}

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, service.WrapError(err, service.ErrConfig, "open database")
	}
	return &app{
		cfg:      cfg,
		store:    store,
		settings: settings,
		svc:      service.New(cfg, store, settings, opts...),
	}, nil
}

func (a *app) Close() {
	a.svc.Stop()
	if err := a.store.Close(); err != nil {
		log.Warn("Failed to close database: %v", err)
	}
}
