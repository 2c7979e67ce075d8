// Command depot boots a Store from config, provisions its configured
// Buckets, and runs the background trash sweep until signaled to stop.
// There is no RPC/HTTP surface here by design — the engine is a library;
// this binary only exercises it end-to-end.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/omalloc/depot/conf"
	"github.com/omalloc/depot/contrib/config"
	"github.com/omalloc/depot/contrib/config/provider/file"
	"github.com/omalloc/depot/contrib/log"
	"github.com/omalloc/depot/storage/bucket"
	"github.com/omalloc/depot/storage/store"
)

var (
	// flagConf is the config flag.
	flagConf string = "config.yaml"
	// flagVerbose is the verbose flag.
	flagVerbose bool

	// Version is the version of the app, set via -ldflags at build time.
	Version string = "no-set"
	GitHash string = "no-set"
)

const sweepInterval = 10 * time.Minute

func init() {
	flag.StringVar(&flagConf, "c", "config.yaml", "config file path")
	flag.BoolVar(&flagVerbose, "v", false, "enable verbose log")

	prometheus.Unregister(collectors.NewGoCollector())
	registerer := prometheus.WrapRegistererWithPrefix("depot_", prometheus.DefaultRegisterer)
	registerer.MustRegister(collectors.NewGoCollector(collectors.WithGoCollectorMemStatsMetricsDisabled()))
}

func main() {
	flag.Parse()

	if flagVerbose {
		log.SetLogger(log.With(log.DefaultLogger, "ts", log.Timestamp(time.RFC3339), "pid", os.Getpid()))
	}

	c := config.New[conf.Bootstrap](config.WithSource(file.NewSource(flagConf)))
	defer c.Close()

	bc := &conf.Bootstrap{}
	if err := c.Scan(bc); err != nil {
		log.Fatalf("failed to load config %s: %v", flagConf, err)
	}
	if bc.Store == nil {
		log.Fatal("config: store is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openOrCreateStore(ctx, bc.Store)
	if err != nil {
		log.Fatalf("failed to initialize store: %v", err)
	}

	buckets, err := provisionBuckets(ctx, st, bc.Store.Buckets)
	if err != nil {
		log.Fatalf("failed to provision buckets: %v", err)
	}
	defer func() {
		for _, b := range buckets {
			if err := b.Close(); err != nil {
				log.Errorf("close bucket %s: %v", b.UUID(), err)
			}
		}
	}()

	log.Infof("depot %s (%s): store %s ready with %d bucket(s)", Version, GitHash, bc.Store.StoreName, len(buckets))
	runSweepLoop(ctx, buckets)
}

// openOrCreateStore opens an existing storage.json at sc.StorePath, or
// creates a fresh Store there if none exists yet.
func openOrCreateStore(ctx context.Context, sc *conf.Store) (*store.Store, error) {
	s, err := store.Open(ctx, sc.StorePath)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return store.New(ctx, sc.StorePath, sc.StoreName, sc.AvailableSpace)
}

// provisionBuckets opens every configured bucket by UUID. When the UUID is
// unset or the bucket cannot be opened, it creates a new bucket of the
// configured BucketSpace instead, under a freshly minted UUID.
func provisionBuckets(ctx context.Context, st *store.Store, configured []*conf.Bucket) ([]*bucket.Bucket, error) {
	buckets := make([]*bucket.Bucket, 0, len(configured))
	for _, bc := range configured {
		var (
			b   *bucket.Bucket
			err error
		)
		if bc.UUID != "" {
			b, err = st.OpenBucket(ctx, bc.UUID)
		}
		if bc.UUID == "" || err != nil {
			b, err = st.CreateBucket(ctx, bc.BucketSpace)
		}
		if err != nil {
			return nil, err
		}
		if report, err := b.Reconcile(ctx); err != nil {
			log.Errorf("bucket %s: reconcile failed: %v", b.UUID(), err)
		} else if !report.Clean() {
			log.Warnf("bucket %s: reconcile found drift (orphans=%d dangling=%d)",
				b.UUID(), len(report.OrphanFSPaths), len(report.DanglingIndexRows))
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// runSweepLoop periodically purges expired trash from every bucket until
// ctx is canceled: SweepExpired is meant to run on a timer, not only on
// demand.
func runSweepLoop(ctx context.Context, buckets []*bucket.Bucket) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("depot: shutting down")
			return
		case <-ticker.C:
			now := time.Now().Unix()
			for _, b := range buckets {
				if err := b.SweepExpired(ctx, now); err != nil {
					log.Errorf("bucket %s: sweep_expired: %v", b.UUID(), err)
				}
			}
		}
	}
}
