package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	coreconfig "github.com/AzielCF/az-crm/core/config"
	"github.com/AzielCF/az-crm/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "az-crm",
	Short: "CRM chat bridge",
	Long: `Runs WhatsApp sessions on behalf of CRM users and exposes them over
a REST API and a WebSocket event stream.`,
}

func init() {
	// .env first so that LoadConfig sees it
	if err := coreconfig.LoadDotEnv("."); err != nil {
		logrus.WithError(err).Warn("[CONFIG] Failed to read .env")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	time.Local = time.UTC

	if _, err := coreconfig.LoadConfig(); err != nil {
		logrus.Fatalf("[CONFIG] %v", err)
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()
	cobra.OnInitialize(initApp)
}

func initFlags() {
	cfg := coreconfig.Global
	flags := rootCmd.PersistentFlags()

	flags.StringVarP(
		&cfg.App.Port,
		"port", "p",
		cfg.App.Port,
		"change port number with --port <number> | example: --port=8080",
	)
	flags.BoolVarP(
		&cfg.App.Debug,
		"debug", "d",
		cfg.App.Debug,
		"hide or displaying log with --debug <true/false> | example: --debug=true",
	)
	flags.StringSliceVarP(
		&cfg.App.BasicAuth,
		"basic-auth", "b",
		cfg.App.BasicAuth,
		"basic auth credential | -b=yourUsername:yourPassword",
	)
	flags.StringVarP(
		&cfg.App.BasePath,
		"base-path", "",
		cfg.App.BasePath,
		`base path for subpath deployment --base-path <string> | example: --base-path="/crm"`,
	)
	flags.StringSliceVarP(
		&cfg.App.TrustedProxies,
		"trusted-proxies", "",
		cfg.App.TrustedProxies,
		`trusted proxy IP ranges --trusted-proxies <string> | example: --trusted-proxies="10.0.0.0/8"`,
	)
	flags.StringVarP(
		&cfg.Paths.BaseDir,
		"base-dir", "",
		cfg.Paths.BaseDir,
		`directory for device stores and the sqlite database --base-dir <string> | example: --base-dir="/data"`,
	)

	flags.StringVarP(
		&cfg.Database.Driver,
		"db-driver", "",
		cfg.Database.Driver,
		`database driver --db-driver <sqlite|postgres>`,
	)
	flags.StringVarP(
		&cfg.Database.Name,
		"db-name", "",
		cfg.Database.Name,
		`sqlite file or postgres database name --db-name <string> | example: --db-name="storages/crm.db"`,
	)

	flags.BoolVarP(
		&cfg.Valkey.Enabled,
		"valkey", "",
		cfg.Valkey.Enabled,
		`relay events and lock session creation through valkey --valkey <true/false>`,
	)
	flags.StringVarP(
		&cfg.Valkey.Address,
		"valkey-address", "",
		cfg.Valkey.Address,
		`valkey address --valkey-address <host:port>`,
	)

	flags.StringVarP(
		&cfg.Whatsapp.OS,
		"os", "",
		cfg.Whatsapp.OS,
		`os name shown in linked devices --os <string> | example: --os="Chrome"`,
	)
	flags.Int64VarP(
		&cfg.Whatsapp.MaxMediaSize,
		"max-media-size", "",
		cfg.Whatsapp.MaxMediaSize,
		`largest outbound media in bytes --max-media-size <number>`,
	)

	flags.IntVarP(
		&cfg.WorkerPool.Size,
		"message-workers", "",
		cfg.WorkerPool.Size,
		`number of concurrent event workers --message-workers <number> | example: --message-workers=30 (default: 20)`,
	)
	flags.IntVarP(
		&cfg.WorkerPool.QueueSize,
		"message-queue-size", "",
		cfg.WorkerPool.QueueSize,
		`queue size per event worker --message-queue-size <number> | example: --message-queue-size=1500 (default: 1000)`,
	)
	flags.DurationVarP(
		&cfg.Hub.PingInterval,
		"ws-ping-interval", "",
		cfg.Hub.PingInterval,
		`websocket heartbeat period --ws-ping-interval <duration> | example: --ws-ping-interval=30s`,
	)
	flags.StringVarP(
		&cfg.Session.ReaperSpec,
		"reaper", "",
		cfg.Session.ReaperSpec,
		`cron spec of the idle session reaper, empty disables it --reaper <spec> | example: --reaper="@every 1h"`,
	)
	flags.DurationVarP(
		&cfg.Session.ReaperMaxIdle,
		"reaper-max-idle", "",
		cfg.Session.ReaperMaxIdle,
		`close sessions idle for longer than this --reaper-max-idle <duration> | example: --reaper-max-idle=72h`,
	)

	_ = viper.BindPFlags(flags)
}

func initApp() {
	cfg := coreconfig.Global

	if cfg.App.Debug {
		cfg.Whatsapp.LogLevel = "DEBUG"
		cfg.Database.LogSQL = true
		logrus.SetLevel(logrus.DebugLevel)
	}
	if strings.EqualFold(viper.GetString("log_format"), "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	// --base-dir moves the default sqlite file along with it
	flags := rootCmd.PersistentFlags()
	if flags.Changed("base-dir") {
		cfg.Paths.Storages = cfg.Paths.BaseDir
		if !flags.Changed("db-name") && !viper.IsSet("db_name") {
			cfg.Database.Name = filepath.Join(cfg.Paths.BaseDir, "crm.db")
		}
	}

	if err := utils.CreateFolder(cfg.Paths.Storages, cfg.Paths.Statics, cfg.Paths.SendItems); err != nil {
		logrus.Errorln(err)
	}

	logrus.Debugf("[CONFIG] %v", coreconfig.GetAllSettings())
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
