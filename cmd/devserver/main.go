package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/auditflow/fieldsync/internal/devserver"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	secret := flag.String("secret", "dev-only-secret", "JWT signing secret")
	tokenTTL := flag.Duration("token-ttl", time.Hour, "Access token lifetime")

	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	server := devserver.New(*secret, *tokenTTL, logger)

	logger.Info("dev server listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, server.Handler()); err != nil {
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		os.Exit(1)
	}
}
