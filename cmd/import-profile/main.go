// Command import-profile loads pre-fetched contribution statistics into the
// profile cache so that render requests for those logins can proceed.
//
//	import-profile -driver sqlite -sqlite unwrapped.db octocat.json mona.json
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/samuelrizzo/github-unwrapped/internal/config"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/logger"
	"github.com/samuelrizzo/github-unwrapped/internal/store/driver"
)

func main() {
	config.LoadDotEnv(config.DotEnvFiles...)
	defaults := config.Defaults()

	var sc config.StoreConfig
	flag.StringVar(&sc.Driver, "driver", envOr("STORE_DRIVER", defaults.Store.Driver), "store driver: postgres or sqlite")
	flag.StringVar(&sc.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
	flag.StringVar(&sc.SQLitePath, "sqlite", envOr("SQLITE_PATH", defaults.Store.SQLitePath), "sqlite database file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] profile.json...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logger.New(logger.Config{Level: "info", Format: "text", ServiceName: "import-profile"})

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := driver.Open(ctx, sc)
	if err != nil {
		log.LogFatal("failed to open store", err, "driver", sc.Driver)
	}
	defer st.Close()

	failed := 0
	for _, path := range flag.Args() {
		login, err := importFile(ctx, st, path, time.Now)
		if err != nil {
			log.LogError(ctx, "import failed", err, "file", path)
			failed++
			continue
		}
		log.Info("profile imported", "file", path, "login", login)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
