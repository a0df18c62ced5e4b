package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/picatz/josekit/internal/config"
	"github.com/picatz/josekit/pkg/checker"
	"github.com/picatz/josekit/pkg/compression"
	"github.com/picatz/josekit/pkg/finder"
	"github.com/picatz/josekit/pkg/jwa"
	"github.com/picatz/josekit/pkg/jwk"
	"github.com/picatz/josekit/pkg/loader"
	"github.com/picatz/josekit/pkg/payload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds what every command shares once the configuration is loaded.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "josekit",
		Short:         "Inspect, verify and decrypt JOSE envelopes",
		Long:          "josekit loads JWS and JWE envelopes in any serialization, verifies or decrypts them, and manages JSON Web Keys.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level, overriding the configuration")

	cmd.AddCommand(
		newInspectCommand(a),
		newVerifyCommand(a),
		newDecryptCommand(a),
		newJWKCommand(a),
	)
	return cmd
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
		if err := config.Validate(cfg); err != nil {
			return err
		}
	}
	a.cfg = cfg

	a.logger, err = createLogger(cfg.Logging)
	return err
}

func createLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config

	if strings.ToLower(cfg.Format) == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zapConfig.Level = level

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// newLoader assembles a loader from the configuration.
func (a *app) newLoader() (*loader.Loader, error) {
	registry := jwa.DefaultRegistry()
	if a.cfg.Checks.AllowNone {
		registry = jwa.DefaultRegistry(jwa.WithSignatureAlgorithms(jwa.NewNone()))
	}

	finders := []finder.KeyFinder{finder.ByKeyID(), finder.ByX5T(), finder.ByEmbeddedJWK()}
	if jku := a.cfg.Keys.JKU; len(jku.AllowedURLs) > 0 {
		cache := jwk.NewURLSetCache(
			&http.Client{Timeout: jku.Timeout.Duration},
			jku.RefreshInterval.Duration,
			jku.CacheDuration.Duration,
			jwk.WithCacheLogger(a.logger),
		)
		finders = append(finders, finder.ByJKU(cache, jku.AllowedURLs...))
	}
	finders = append(finders, finder.All())

	checks, err := checker.New(a.cfg.CheckerOptions()...)
	if err != nil {
		return nil, err
	}

	return loader.New(
		registry,
		finder.Chain(finders...),
		payload.DefaultManager(),
		compression.DefaultManager(compression.WithMaxSize(a.cfg.Compression.MaxSize)),
		checks,
		loader.WithLogger(a.logger),
	)
}

// readKeys reads the JWK set files given on the command line, or those of
// the configuration. A file may also hold a single JWK.
func (a *app) readKeys(paths []string) (jwk.Set, error) {
	if len(paths) == 0 {
		paths = a.cfg.Keys.Files
	}
	if len(paths) == 0 {
		return jwk.Set{}, fmt.Errorf("no keys: use --keys or the keys.files configuration")
	}

	set := jwk.NewSet()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return jwk.Set{}, fmt.Errorf("failed to read keys: %w", err)
		}
		keys, err := parseKeys(data)
		if err != nil {
			return jwk.Set{}, fmt.Errorf("failed to parse keys in %q: %w", path, err)
		}
		for _, key := range keys.All() {
			set = set.Add(key)
		}
	}
	a.logger.Debug("read keys", zap.Strings("files", paths), zap.Int("keys", set.Len()))
	return set, nil
}

func parseKeys(data []byte) (jwk.Set, error) {
	set, err := jwk.ParseSet(data)
	if err == nil {
		return set, nil
	}
	key, keyErr := jwk.Parse(data)
	if keyErr != nil {
		return jwk.Set{}, err
	}
	return jwk.NewSet(key), nil
}

// readInput returns the content of the named file, or of standard input
// when the name is empty or "-".
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}
