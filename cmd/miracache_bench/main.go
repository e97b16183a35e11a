// miracache_bench drives a page cache with configurable workloads
// (sequential, uniform random, or skewed 80/20) and reports cache
// statistics per phase. It exposes Prometheus metrics when enabled.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"math"
	"math/rand"
	"os"
	"time"

	pagecache "github.com/miradb/miracache/core/page_cache"
	pagemanager "github.com/miradb/miracache/core/page_manager"
	"github.com/miradb/miracache/pkg/logger"
	"github.com/miradb/miracache/pkg/telemetry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type benchCache interface {
	pagecache.PageCache
	LogStats()
	ResetStats()
	Close() error
}

func main() {
	var (
		file        = flag.String("file", "miracache.heap", "heap file path")
		create      = flag.Bool("create", true, "initialize a fresh heap file")
		cacheKind   = flag.String("cache", "mira", "cache implementation: mira or heap")
		hotCap      = flag.Int("hot", 1024, "hot tier capacity (mira)")
		coldCap     = flag.Int("cold", 3072, "cold tier capacity (mira); also the heap cache capacity")
		threshold   = flag.Float64("threshold", 3.0, "promotion threshold (mira)")
		admitProb   = flag.Float64("admit", 0.1, "hot admission probability (mira)")
		forceMiss   = flag.Float64("force-miss", 0, "forced miss probability (mira)")
		pageSize    = flag.Int("page-size", 4096, "page size in bytes")
		numPages    = flag.Int("pages", 10000, "pages to allocate")
		numOps      = flag.Int("ops", 50000, "fetch operations to run")
		workload    = flag.String("workload", "skewed", "access pattern: sequential, random or skewed")
		opsPerSec   = flag.Float64("rate", 0, "fetch rate limit in ops/sec (0 = unlimited)")
		metricsOn   = flag.Bool("metrics", false, "expose Prometheus metrics")
		metricsPort = flag.Int("metrics-port", 9464, "Prometheus metrics port")
		logLevel    = flag.String("log-level", "info", "log level")
		logFormat   = flag.String("log-format", "console", "log format: console or json")
	)
	flag.Parse()

	log, err := logger.New(logger.Config{Level: *logLevel, Format: *logFormat, OutputFile: "stdout"})
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	tel, telShutdown, err := telemetry.New(telemetry.Config{
		Enabled:        *metricsOn,
		ServiceName:    "miracache_bench",
		PrometheusPort: *metricsPort,
	})
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telShutdown(context.Background())

	var cache benchCache
	switch *cacheKind {
	case "mira":
		opts := pagecache.DefaultOptions()
		opts.HotCapacity = *hotCap
		opts.ColdCapacity = *coldCap
		opts.PromotionThreshold = *threshold
		opts.AdmissionProbability = *admitProb
		opts.ForceMissProbability = *forceMiss
		opts.PageSize = *pageSize
		mira, err := pagecache.NewMiraPageCache(*file, *create, opts, log)
		if err != nil {
			log.Fatal("Failed to open cache", zap.Error(err))
		}
		if *metricsOn {
			if err := mira.RegisterMetrics(tel.Meter); err != nil {
				log.Fatal("Failed to register metrics", zap.Error(err))
			}
		}
		cache = mira
	case "heap":
		heap, err := pagecache.NewHeapPageCache(*file, *create, *coldCap, *pageSize, log)
		if err != nil {
			log.Fatal("Failed to open cache", zap.Error(err))
		}
		cache = heap
	default:
		log.Fatal("Unknown cache kind", zap.String("cache", *cacheKind))
	}
	defer cache.Close()

	log.Info("Allocating pages", zap.Int("pages", *numPages))
	start := time.Now()
	for i := 0; i < *numPages; i++ {
		page, err := cache.NewPage()
		if err != nil {
			log.Fatal("NewPage failed", zap.Int("n", i), zap.Error(err))
		}
		page.UpgradeLock()
		binary.LittleEndian.PutUint32(page.GetData(), uint32(page.GetPageID()))
		page.DowngradeLock()
		if err := cache.UnpinPage(page, true); err != nil {
			log.Error("Unpin failed", zap.Error(err))
		}
		page.UpgradableRUnlock()
	}
	log.Info("Allocation phase done", zap.Duration("elapsed", time.Since(start)))
	cache.LogStats()
	cache.ResetStats()

	limit := rate.Inf
	if *opsPerSec > 0 {
		limit = rate.Limit(*opsPerSec)
	}
	limiter := rate.NewLimiter(limit, 1)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	pick := pickerFor(*workload, *numPages, rng)

	log.Info("Running fetch phase",
		zap.Int("ops", *numOps), zap.String("workload", *workload), zap.Float64("rate", *opsPerSec))
	ctx := context.Background()
	start = time.Now()
	for i := 0; i < *numOps; i++ {
		if err := limiter.Wait(ctx); err != nil {
			log.Fatal("Rate limiter failed", zap.Error(err))
		}
		id := pick()
		page, err := cache.FetchPage(id)
		if err != nil {
			log.Fatal("FetchPage failed", zap.Uint32("page_id", uint32(id)), zap.Error(err))
		}
		if got := pagemanager.PageID(binary.LittleEndian.Uint32(page.GetData())); got != id {
			log.Fatal("Page content mismatch",
				zap.Uint32("page_id", uint32(id)), zap.Uint32("got", uint32(got)))
		}
		if err := cache.UnpinPage(page, false); err != nil {
			log.Error("Unpin failed", zap.Error(err))
		}
		page.UpgradableRUnlock()
	}
	elapsed := time.Since(start)
	log.Info("Fetch phase done",
		zap.Duration("elapsed", elapsed),
		zap.Float64("ops_per_sec", float64(*numOps)/elapsed.Seconds()))
	cache.LogStats()

	if err := cache.FlushAll(); err != nil {
		log.Error("Final flush failed", zap.Error(err))
	}
}

// pickerFor returns a page id generator for the named access pattern. The
// skewed pattern draws 80% of fetches from the first 20% of the id space and
// the rest uniformly from the whole id space.
func pickerFor(workload string, numPages int, rng *rand.Rand) func() pagemanager.PageID {
	seq := 0
	hotSpan := int(math.Max(1, float64(numPages)/5))
	switch workload {
	case "sequential":
		return func() pagemanager.PageID {
			id := pagemanager.PageID(seq % numPages)
			seq++
			return id
		}
	case "random":
		return func() pagemanager.PageID {
			return pagemanager.PageID(rng.Intn(numPages))
		}
	default: // skewed
		return func() pagemanager.PageID {
			if rng.Float64() < 0.8 {
				return pagemanager.PageID(rng.Intn(hotSpan))
			}
			return pagemanager.PageID(rng.Intn(numPages))
		}
	}
}
