package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/brojonat/tzwallet/service/config"
	"github.com/brojonat/tzwallet/service/db"
	"github.com/brojonat/tzwallet/service/diskcache"
	"github.com/urfave/cli/v2"
)

func cacheFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "cache-backend",
			Usage:   "Cache backend: disk or postgres",
			EnvVars: []string{"CACHE_BACKEND"},
			Value:   config.CacheBackendDisk,
		},
		&cli.StringFlag{
			Name:    "cache-dir",
			Usage:   "Directory of the disk cache",
			EnvVars: []string{"CACHE_DIR"},
			Value:   "./data/cache",
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL for the postgres cache",
			EnvVars: []string{"DATABASE_URL"},
		},
	}
}

// openCache opens the store selected by the cache flags. The returned func
// releases it.
func openCache(c *cli.Context) (diskcache.Store, func(), error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	switch backend := c.String("cache-backend"); backend {
	case config.CacheBackendDisk:
		if _, err := os.Stat(c.String("cache-dir")); err != nil {
			return nil, nil, fmt.Errorf("cache dir: %w", err)
		}
		store, err := diskcache.New(c.String("cache-dir"), logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case config.CacheBackendPostgres:
		if c.String("database-url") == "" {
			return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
		}
		pool, err := db.NewPool(c.Context, c.String("database-url"))
		if err != nil {
			return nil, nil, err
		}
		return db.NewCache(db.NewStore(pool), 15*time.Second, logger), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

func listCacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List cache entries",
		Flags: append(cacheFlags(), &cli.StringFlag{
			Name:    "address",
			Aliases: []string{"a"},
			Usage:   "Only list entries belonging to this wallet address",
		}),
		Action: func(c *cli.Context) error {
			store, closeStore, err := openCache(c)
			if err != nil {
				return err
			}
			defer closeStore()

			names := store.AllFileNamesWith("")
			if address := c.String("address"); address != "" {
				key := diskcache.NormalizedKey(address)
				filtered := names[:0]
				for _, name := range names {
					if strings.HasSuffix(name, key) {
						filtered = append(filtered, name)
					}
				}
				names = filtered
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, names)
			}
			if len(names) == 0 {
				fmt.Fprintln(c.App.Writer, "No cache entries")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(c.App.Writer, name)
			}
			return nil
		},
	}
}

func showCacheCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a cache entry",
		ArgsUsage: "NAME",
		Flags: append(cacheFlags(), &cli.StringFlag{
			Name:  "jq",
			Usage: "jq expression applied to the entry",
		}),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("entry name is required")
			}

			store, closeStore, err := openCache(c)
			if err != nil {
				return err
			}
			defer closeStore()

			var doc interface{}
			if !store.Read(c.Args().First(), &doc) {
				return fmt.Errorf("cache entry %q not found", c.Args().First())
			}

			if expr := c.String("jq"); expr != "" {
				return runJQ(c.App.Writer, expr, doc)
			}
			return printJSON(c.App.Writer, doc)
		},
	}
}

// runJQ prints every result of expr applied to doc.
func runJQ(w io.Writer, expr string, doc interface{}) error {
	codes, err := compileJQ([]string{expr})
	if err != nil {
		return err
	}
	iter := codes[0].Run(doc)
	for {
		v, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := v.(error); isErr {
			return fmt.Errorf("jq: %w", err)
		}
		if err := printJSON(w, v); err != nil {
			return err
		}
	}
}
