package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kapnodes/kapimage/internal/dedup"
	"github.com/kapnodes/kapimage/internal/digest"
	"github.com/kapnodes/kapimage/internal/events"
	"github.com/kapnodes/kapimage/internal/folders"
	"github.com/kapnodes/kapimage/internal/nodes"
	"github.com/kapnodes/kapimage/internal/preview"
	"github.com/kapnodes/kapimage/internal/server"
	"github.com/kapnodes/kapimage/internal/watchers"
	"github.com/kapnodes/kapimage/internal/workers"
	"github.com/kapnodes/kapimage/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kapimage HTTP service",
	Long: `Start the HTTP service that handles deduplicated uploads, preview generation,
the watch list and the websocket preview push.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "address to listen on (overrides server.listen)")
	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Get()

	roots, err := folders.NewRoots(cfg.Folders.Input, cfg.Folders.Output, cfg.Folders.Temp)
	if err != nil {
		return err
	}

	cache := digest.NewCache(cfg.Digest.CachePath)
	if err := cache.Open(); err != nil {
		log.Warn("Digest cache unavailable, hashing directly", zap.Error(err))
	}
	defer cache.Close()

	pool := workers.NewPool(cfg.Workers)
	hub := events.NewHub(0)
	defer hub.Close()

	previews := preview.NewGenerator(roots, pool, hub, preview.Config{
		Converter: preview.NewExecConverter(cfg.Preview.Converter),
		Timeout:   cfg.Preview.Timeout,
	})

	watch := watchers.NewWatchListService(watchers.ManagerConfig{
		DebouncePeriod: cfg.Watch.Debounce,
		HashAlgorithm:  digest.Algorithm(cfg.Watch.HashAlgorithm),
		Handler:        previews.Regenerate,
	})
	defer func() {
		if err := watch.Shutdown(); err != nil {
			log.Error("Failed to stop watchlist service", zap.Error(err))
		}
	}()

	srv := server.New(server.Deps{
		Roots:    roots,
		Uploader: dedup.NewDeduplicator(roots, cache, pool),
		Previews: previews,
		Watch:    watch,
		Hub:      hub,
		Nodes:    nodes.NewDefaultRegistry(roots, cache, previews),
		Cache:    cache,
	}, server.Options{
		Listen:         cfg.Server.Listen,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("kapimage %s listening on http://%s\n", version, cfg.Server.Listen)
	fmt.Printf("  input:  %s\n  output: %s\n  temp:   %s\n", roots.Input, roots.Output, roots.Temp)
	if !watch.Available() {
		fmt.Println("  file watching unavailable: automatic previews disabled")
	}

	log.Info("Starting kapimage",
		zap.String("version", version),
		zap.String("listen", cfg.Server.Listen),
		zap.Int("workers", pool.Size()),
	)
	return srv.ListenAndServe(ctx)
}
