package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/user-discounts/internal/domain/discount"
	"github.com/xenking/user-discounts/internal/repository"
)

const (
	bloomCapacity = 50_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
)

// pair is one user/discount grant request parsed from the input files.
type pair struct {
	userID string
	code   string
	file   string
	line   int
}

func main() {
	var (
		databaseURL string
		workers     int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 8, "concurrent assignment workers")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		slog.Error("usage: entitlement-ingest [flags] file1.csv.gz [file2.csv.gz ...]")
		os.Exit(1)
	}

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files, workers); err != nil {
		slog.Error("entitlement ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, files []string, workers int) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	definitions := repository.NewDefinitionRepository(pool)
	service := discount.NewService(
		repository.NewStores(pool),
		repository.NewTxRunner(pool, 0),
		discount.DefaultPolicy(),
		nil,
	)

	// Codes are few; resolve them up front so scanning can drop unknown ones
	// without a database round trip per line.
	codeCache := &codeResolver{definitions: definitions, ids: make(map[string]string)}

	pairs := make(chan pair, 1024)

	scanners, scanCtx := errgroup.WithContext(ctx)
	dedupe := newDeduper()
	for _, f := range files {
		scanners.Go(scanFile(scanCtx, f, dedupe, pairs))
	}

	var (
		assigned  atomic.Uint64
		duplicate atomic.Uint64
		failed    atomic.Uint64
	)

	assigners, assignCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		assigners.Go(func() error {
			for p := range pairs {
				if err := assignCtx.Err(); err != nil {
					return err
				}

				definitionID, err := codeCache.resolve(assignCtx, p.code)
				if err != nil {
					failed.Add(1)
					slog.Warn("unknown discount code",
						slog.String("code", p.code),
						slog.String("file", p.file),
						slog.Int("line", p.line),
					)
					continue
				}

				_, err = service.Assign(assignCtx, p.userID, definitionID)
				switch {
				case err == nil:
					assigned.Add(1)
				case errors.Is(err, discount.ErrDuplicateAssignment):
					duplicate.Add(1)
				default:
					// One bad pair never aborts the run.
					failed.Add(1)
					slog.Warn("assignment failed",
						slog.String("user", p.userID),
						slog.String("code", p.code),
						slog.String("file", p.file),
						slog.Int("line", p.line),
						slog.String("error", err.Error()),
					)
				}
			}
			return nil
		})
	}

	scanErr := scanners.Wait()
	close(pairs)
	if err := assigners.Wait(); err != nil {
		return errors.Wrap(err, "assign entitlements")
	}
	if scanErr != nil {
		return errors.Wrap(scanErr, "scan input files")
	}

	slog.Info("entitlement ingest completed",
		slog.Uint64("assigned", assigned.Load()),
		slog.Uint64("duplicates", duplicate.Load()),
		slog.Uint64("failed", failed.Load()),
	)
	return nil
}

// scanFile streams one gzipped CSV of user_id,discount_code lines into the
// pairs channel, skipping malformed lines and duplicates.
func scanFile(ctx context.Context, path string, dedupe *deduper, pairs chan<- pair) func() error {
	return func() error {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		defer func() { _ = f.Close() }()

		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()

		var line int
		scanner := bufio.NewScanner(gz)
		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				return err
			}
			line++

			userID, code, ok := parseLine(scanner.Text())
			if !ok {
				slog.Warn("malformed line", slog.String("file", path), slog.Int("line", line))
				continue
			}
			if !dedupe.firstSeen(userID + "\x00" + code) {
				continue
			}

			select {
			case pairs <- pair{userID: userID, code: code, file: path, line: line}:
			case <-ctx.Done():
				return ctx.Err()
			}

			if line%progressEvery == 0 {
				slog.Info("scan progress", slog.String("file", path), slog.Int("lines", line))
			}
		}
		if err := scanner.Err(); err != nil {
			return errors.Wrapf(err, "scan %s", path)
		}

		slog.Info("scan complete", slog.String("file", path), slog.Int("lines", line))
		return nil
	}
}

func parseLine(raw string) (userID, code string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", "", false
	}
	userID, code, found := strings.Cut(raw, ",")
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if !found || userID == "" || code == "" {
		return "", "", false
	}
	return userID, code, true
}

// deduper drops repeated (user, code) pairs across all input files. The
// bloom filter answers the common "never seen" case without allocating; only
// keys the filter flags go into the exact set. A duplicate whose first
// occurrence never hit the set can slip through once, which is fine: the
// database's unique index rejects it as ErrDuplicateAssignment.
type deduper struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	seen   map[string]struct{}
}

func newDeduper() *deduper {
	return &deduper{
		filter: bloom.NewWithEstimates(bloomCapacity, bloomFPR),
		seen:   make(map[string]struct{}),
	}
}

func (d *deduper) firstSeen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.filter.TestString(key) {
		d.filter.AddString(key)
		return true
	}
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// codeResolver caches discount code to definition id lookups.
type codeResolver struct {
	definitions *repository.DefinitionRepository

	mu  sync.Mutex
	ids map[string]string
}

func (c *codeResolver) resolve(ctx context.Context, code string) (string, error) {
	key := strings.ToUpper(code)

	c.mu.Lock()
	id, ok := c.ids[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	def, err := c.definitions.FindByCode(ctx, code)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.ids[key] = def.ID
	c.mu.Unlock()
	return def.ID, nil
}
