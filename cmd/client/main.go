package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/auditflow/fieldsync/internal/client/cli"
	"github.com/auditflow/fieldsync/internal/client/iocli"
	"github.com/auditflow/fieldsync/internal/client/storage/boltdb"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Глобальные флаги
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", "http://localhost:8080", "Backend URL")
	wsURL := flag.String("ws", "ws://localhost:8080/ws", "Notification channel URL")
	dbPath := flag.String("db", "fieldsync.db", "Path to local database")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	stdio := iocli.NewStdio()

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintUsage(stdio)
		os.Exit(1)
	}

	command := args[0]

	// Ctrl+C останавливает долгоживущие команды (listen)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Открываем BoltDB storage
	boltStorage, err := boltdb.New(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := boltStorage.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	app := cli.New(*serverURL, *wsURL, boltStorage, stdio, slog.Default())

	// Выполняем команду
	var cmdErr error
	switch command {
	case "register":
		cmdErr = app.RunRegister(ctx)
	case "login":
		cmdErr = app.RunLogin(ctx)
	case "logout":
		cmdErr = app.RunLogout(ctx)
	case "status":
		cmdErr = app.RunStatus(ctx)
	case "assignments":
		cmdErr = app.RunAssignments(ctx)
	case "template":
		cmdErr = app.RunTemplate(ctx, args[1:])
	case "mark":
		cmdErr = app.RunMark(ctx, args[1:])
	case "submit":
		cmdErr = app.RunSubmit(ctx, args[1:])
	case "sync":
		cmdErr = app.RunSync(ctx)
	case "listen":
		cmdErr = app.RunListen(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		cli.PrintUsage(stdio)
		os.Exit(1)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("fieldsync client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
