package cmd

import (
	"fmt"
	"strings"

	"github.com/jzelinskie/cobrautil/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kubev2v/task-engine/internal/config"
)

const envPrefix = "TASK_ENGINE"

type rootOptions struct {
	configFile string
	viper      *viper.Viper
	cfg        *config.Configuration
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{viper: viper.New()}

	root := &cobra.Command{
		Use:           "task-engine",
		Short:         "Priority aware task executor with an elastic worker pool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: cobrautil.CommandStack(
			cobrautil.SyncViperPreRunE(strings.ToLower(envPrefix)),
			opts.load,
		),
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to a configuration file")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newRunCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)
	return root
}

// load reads the configuration file, environment and flags, then installs
// the global logger.
func (o *rootOptions) load(cmd *cobra.Command, _ []string) error {
	v := o.viper
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading configuration file %s: %w", o.configFile, err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	o.cfg = cfg

	logger, err := newLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	zap.S().Named("cmd").Debugw("configuration loaded", "config", cfg.DebugMap())
	return nil
}

func newLogger(format, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
