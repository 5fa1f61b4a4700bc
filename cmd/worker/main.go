// Package main is the entry point for a pip bridge worker process: it
// dials the master's IPC socket and hosts whatever streams the master hands
// off to it, per spec §4.3/§4.5/§6 ("Worker process invocation").
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/pipirc/bridge/internal/config"
	_ "github.com/pipirc/bridge/internal/features"
	"github.com/pipirc/bridge/internal/worker"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) != 3 {
		log.Fatalf("usage: %s <config-path> <ipc-socket-path>", os.Args[0])
	}
	configPath := os.Args[1]
	ipcSocket := os.Args[2]

	_, registry, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Critical error loading configuration: %v", err)
	}

	name := workerName()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Worker %s is ready, dialing master at %s", name, ipcSocket)

	if err := worker.Run(ctx, name, ipcSocket, registry); err != nil {
		log.Fatalf("Critical error running worker: %v", err)
	}

	log.Println("Exiting.")
}

// workerName gives each worker process a name unique enough for the
// master's IPC server to tell its connections apart across respawns, even
// when a respawned replacement lands on the same pid as a worker that
// crashed moments ago.
func workerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String())
}
