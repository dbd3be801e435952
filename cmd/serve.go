package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"

	"github.com/rubiojr/cdpbridge/pkg/bridge"
	"github.com/rubiojr/cdpbridge/pkg/brop"
	"github.com/rubiojr/cdpbridge/pkg/cdp"
	"github.com/rubiojr/cdpbridge/pkg/config"
	bridgelog "github.com/rubiojr/cdpbridge/pkg/log"
)

var serveLogger = bridgelog.ForService("serve")

// shutdownGrace bounds how long serve waits for in-flight responses to
// drain before the listeners are torn down.
const shutdownGrace = 3 * time.Second

// ServeCommand creates the serve command: it starts the three listening
// ports (BROP, the extension conduit, CDP) and runs until interrupted.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the bridge daemon",
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServe(ctx, c.String("config"))
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.LogStream == "stderr" {
		bridgelog.SetOutput(os.Stderr)
	} else {
		bridgelog.SetOutput(os.Stdout)
	}
	bridgelog.SetGlobalDebug(cfg.Debug)
	bridgelog.SetRingCapacity(cfg.LogBufferSize)

	wsDebuggerURL := fmt.Sprintf("ws://127.0.0.1:%d/devtools/browser/bridge", cfg.CDPPort)

	engine := bridge.NewEngine(
		cfg.CDPRequestTimeout.Duration,
		cfg.BROPRequestTimeout.Duration,
		cfg.QueueGrace.Duration,
		wsDebuggerURL,
		cfg.CDP.ForwardUntrackedAttach,
	)

	engineStop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(engineStop)
	}()

	bropListener := brop.NewListener(engine)
	bropMux := http.NewServeMux()
	bropListener.RegisterRoutes(bropMux)
	bropServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.BROPPort), Handler: bropMux}

	cdpListener := cdp.NewListener(engine, wsDebuggerURL, cfg.CDP.LegacyPageDiscovery)
	cdpMux := http.NewServeMux()
	cdpListener.RegisterRoutes(cdpMux)
	cdpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.CDPPort), Handler: cdpMux}

	extMux := http.NewServeMux()
	extMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		engine.Conduit.ServeHTTP(w, r, engine.SubmitExtensionFrame)
	})
	extServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ExtensionPort), Handler: extMux}

	servers := []*http.Server{bropServer, cdpServer, extServer}
	names := []string{"brop", "cdp", "extension"}

	errCh := make(chan error, len(servers))
	for i, srv := range servers {
		srv := srv
		name := names[i]
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("%s listener: %w", name, err)
				return
			}
			errCh <- nil
		}()
	}

	serveLogger.Infof("brop listening on :%d, cdp listening on :%d, extension listening on :%d",
		cfg.BROPPort, cfg.CDPPort, cfg.ExtensionPort)

	var cfgMutex sync.RWMutex
	currentConfig := cfg

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		serveLogger.Warnf("failed to create config file watcher: %v", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(configPath); err != nil {
			serveLogger.Warnf("failed to watch config file %s: %v", configPath, err)
		} else {
			serveLogger.Infof("watching config file for changes: %s", configPath)
		}
	}

	var watcherEvents chan fsnotify.Event
	var watcherErrors chan error
	if watcher != nil {
		watcherEvents = watcher.Events
		watcherErrors = watcher.Errors
	}

	for {
		select {
		case err := <-errCh:
			if err != nil {
				serveLogger.Errorf("%v", err)
				shutdownServers(servers, engineStop, &wg)
				return err
			}
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				serveLogger.Infof("received SIGHUP, reloading configuration")
				if err := reloadServeConfig(configPath, &cfgMutex, &currentConfig); err != nil {
					serveLogger.Errorf("reloading configuration: %v", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				serveLogger.Infof("shutting down")
				shutdownServers(servers, engineStop, &wg)
				return nil
			}
		case event, ok := <-watcherEvents:
			if !ok {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				time.Sleep(100 * time.Millisecond)
				if err := reloadServeConfig(configPath, &cfgMutex, &currentConfig); err != nil {
					serveLogger.Errorf("reloading configuration after file change: %v", err)
				}
			}
		case err, ok := <-watcherErrors:
			if !ok {
				continue
			}
			serveLogger.Errorf("config file watcher error: %v", err)
		}
	}
}

// reloadServeConfig re-reads configPath and applies the settings that can
// change without rebinding a listener: log level and ring buffer size.
// Port changes and the two CDP session-manager behavior flags take effect
// only on restart.
func reloadServeConfig(configPath string, mu *sync.RWMutex, current **config.Config) error {
	newCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading new config: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	bridgelog.SetGlobalDebug(newCfg.Debug)
	bridgelog.SetRingCapacity(newCfg.LogBufferSize)
	*current = newCfg

	serveLogger.Infof("configuration reloaded (debug=%v, log_buffer_size=%d)", newCfg.Debug, newCfg.LogBufferSize)
	return nil
}

// shutdownServers stops accepting new connections on every listener,
// gives in-flight responses a bounded grace period to drain, then stops
// the engine's dispatch loop.
func shutdownServers(servers []*http.Server, engineStop chan struct{}, wg *sync.WaitGroup) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	var swg sync.WaitGroup
	for _, srv := range servers {
		srv := srv
		swg.Add(1)
		go func() {
			defer swg.Done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	swg.Wait()

	close(engineStop)
	wg.Wait()
}
