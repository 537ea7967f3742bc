package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"coffers/cmd"
	"coffers/database"

	"github.com/joho/godotenv"
)

const usage = `usage: coffers [command]

commands:
  (none)                              run the ledger service
  migrate up|down [steps]|status      manage the database schema
  remove-account <name> [--force]     delete an account; --force orphans gems in transit
  register-bank <id> <description>    add or rename a bank
  sweep [partition]                   run the idle account sweeper once
  pending-transfers                   list transfers still in transit
  requeue-parked                      retry jobs parked after repeated failures`

func main() {
	// A missing .env file is fine; the environment may already be set
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	if len(os.Args) > 1 {
		if err := runCommand(ctx, os.Args[1], os.Args[2:]); err != nil {
			log.Fatalf("%s error: %v", os.Args[1], err)
		}
		return
	}

	// Run the application
	if err := cmd.Run(ctx); err != nil {
		log.Fatal("Application error:", err)
	}
}

func runCommand(ctx context.Context, command string, args []string) error {
	switch command {
	case "migrate":
		return handleMigrationCommand(args)

	case "remove-account":
		if len(args) < 1 {
			return fmt.Errorf("usage: coffers remove-account <name> [--force]")
		}
		force := len(args) > 1 && args[1] == "--force"
		return cmd.RemoveAccount(ctx, args[0], force)

	case "register-bank":
		if len(args) < 2 {
			return fmt.Errorf("usage: coffers register-bank <id> <description>")
		}
		bankID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid bank id %q: %w", args[0], err)
		}
		return cmd.RegisterBank(ctx, bankID, strings.Join(args[1:], " "))

	case "sweep":
		partition := ""
		if len(args) > 0 {
			partition = args[0]
		}
		return cmd.Sweep(ctx, partition)

	case "pending-transfers":
		return cmd.PendingTransfers(ctx)

	case "requeue-parked":
		return cmd.RequeueParked(ctx)

	case "help", "-h", "--help":
		fmt.Println(usage)
		return nil

	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

func handleMigrationCommand(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: coffers migrate [up|down|status] [args...]")
	}

	switch args[0] {
	case "up":
		return database.MigrateUp()
	case "down":
		steps := "1"
		if len(args) > 1 {
			steps = args[1]
		}
		return database.MigrateDown(steps)
	case "status":
		return database.MigrateStatus()
	default:
		return fmt.Errorf("unknown migration command: %s", args[0])
	}
}
