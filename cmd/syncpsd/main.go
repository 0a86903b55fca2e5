// Command syncpsd runs one SyncPS engine over a UDP multicast group,
// publishing a line of stdin as a publication and printing every delivered
// publication under the subscribed prefix — a minimal demo binary wiring
// face/udpface + engine + a viper/cobra config, the way the teacher's cmd/
// binaries wire a BaseApp + config file over a runnable service.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/mitchellh/mapstructure"
	multiaddr "github.com/multiformats/go-multiaddr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pollere/syncps/engine"
	"github.com/pollere/syncps/face/udpface"
	"github.com/pollere/syncps/log"
	"github.com/pollere/syncps/pub"
	"github.com/pollere/syncps/sigmgr"
)

type daemonConfig struct {
	Group      string `mapstructure:"group"`
	Collection string `mapstructure:"collection"`
	Engine     engine.Config
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Group:      "/ip4/239.5.5.5/udp/7654",
		Collection: "/syncpsd/demo",
		Engine:     engine.DefaultConfig(),
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "syncpsd",
		Short: "run a SyncPS engine over UDP multicast",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(loadConfig(cfgFile, cmd))
		},
	}
	flags := cmd.Flags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("group", "", "multicast group multiaddr, e.g. /ip4/239.5.5.5/udp/7654")
	flags.String("collection", "", "collection name, e.g. /syncpsd/demo")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		cfgFile, _ = flags.GetString("config")
		return viper.BindPFlags(flags)
	}
	return cmd
}

func loadConfig(cfgFile string, cmd *cobra.Command) daemonConfig {
	cfg := defaultDaemonConfig()
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "syncpsd: reading config %s: %v\n", cfgFile, err)
		}
	}
	hook := mapstructure.ComposeDecodeHookFunc(mapstructure.StringToTimeDurationHookFunc())
	if err := viper.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		fmt.Fprintf(os.Stderr, "syncpsd: parsing config: %v\n", err)
	}
	if v := viper.GetString("group"); v != "" {
		cfg.Group = v
	}
	if v := viper.GetString("collection"); v != "" {
		cfg.Collection = v
	}
	return cfg
}

func run(cfg daemonConfig) error {
	logger := log.New("syncpsd", zap.InfoLevel)
	defer logger.Sync() //nolint:errcheck

	maddr, err := multiaddr.NewMultiaddr(cfg.Group)
	if err != nil {
		return fmt.Errorf("syncpsd: parse group multiaddr: %w", err)
	}
	f, err := udpface.New(maddr, udpface.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("syncpsd: join multicast group: %w", err)
	}
	defer f.Close()

	collection := pub.ParseName(cfg.Collection)
	e := engine.New(f, collection, sigmgr.NullSigner{}, sigmgr.NullValidator{},
		engine.WithLogger(logger),
		engine.WithConfig(cfg.Engine),
		engine.WithAutoStart(true),
	)
	e.Subscribe(collection, func(p pub.Publication) {
		logger.Info("received", zap.String("name", p.Name().String()), zap.ByteString("content", p.Content()))
	})

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancel()
	}()

	go readStdinAndPublish(ctx, e, collection, logger)

	return e.Run(ctx)
}

// readStdinAndPublish publishes each line read from stdin under
// collection, so a user can drive the demo interactively.
func readStdinAndPublish(ctx context.Context, e *engine.Engine, collection pub.Name, logger *zap.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := scanner.Text()
		name := collection.Append([]byte("line")).AppendTimestamp(time.Now())
		h := e.Publish(pub.New(name, []byte(line)))
		if h == 0 {
			logger.Warn("duplicate publish skipped")
		}
	}
}
