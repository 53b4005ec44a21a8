// netcl - intent-driven controller for a small data-center fabric.
//
// The controller onboards managed switches and a firewall, keeps a live
// topology model with per-VLAN and per-VRF overlays, and materializes
// tenant intents (networks, port attachments, PNFs, routes) across the
// devices through a single serialized worker.
//
//	netcl serve              # run the controller with ./config.json
//	netcl serve -c conf.yaml # explicit configuration file
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/robertobru/netcl/pkg/api"
	"github.com/robertobru/netcl/pkg/config"
	"github.com/robertobru/netcl/pkg/device"
	"github.com/robertobru/netcl/pkg/network"
	"github.com/robertobru/netcl/pkg/store"
	"github.com/robertobru/netcl/pkg/util"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "netcl",
	Short:         "Network controller for a small data-center fabric",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (default config.json)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level override")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if level != "" {
		if err := util.SetLogLevel(level); err != nil {
			return err
		}
	}

	db, err := store.Dial(cfg.Mongo)
	if err != nil {
		return err
	}
	defer db.Close()

	util.Logger.Info("initializing the network")
	registry := device.NewRegistry(db, device.AdapterOptions{SkipTLSVerify: cfg.SkipTLSVerify()})
	if err := registry.LoadAll(); err != nil {
		return err
	}

	net, err := network.New(db, registry, &cfg.Network)
	if err != nil {
		return err
	}

	util.Logger.Info("initializing the network worker")
	worker := network.NewWorker(net, db)
	if err := worker.Start(); err != nil {
		return err
	}
	util.Logger.Info("initialization complete")

	server := api.NewServer(worker, db)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: server.Router()}

	errCh := make(chan error, 1)
	go func() {
		util.Logger.Infof("serving the northbound API on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		worker.Stop()
		return err
	case sig := <-stop:
		util.Logger.Infof("received %s, draining the worker", sig)
		worker.Stop()
		return httpServer.Close()
	}
}
