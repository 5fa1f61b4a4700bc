// Package main is the entry point for the pip bridge master process: the
// TCP pip listener, the IPC fabric to worker processes, and the chat client
// pool, per spec §4.2.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pipirc/bridge/internal/config"
	"github.com/pipirc/bridge/internal/ipc"
	"github.com/pipirc/bridge/internal/master"
	"github.com/pipirc/bridge/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.json", "path to the stream registry config file")
	ipcSocket := flag.String("ipc-socket", "/tmp/pipirc-master.sock", "path for the master's IPC listening socket")
	workerBinary := flag.String("worker-binary", "", "path to the worker binary (defaults to the binary alongside this one)")
	flag.Parse()

	cfg, registry, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Critical error loading configuration: %v", err)
	}
	opSettings := config.LoadOperational()

	binary := *workerBinary
	if binary == "" {
		if exe, err := os.Executable(); err == nil {
			binary = filepath.Join(filepath.Dir(exe), "worker")
		} else {
			binary = "worker"
		}
	}

	uploader := telemetry.NewTelegramUploader(os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID"))

	dial := func(ctx context.Context, host string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", host)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The chat pool outlives the shutdown signal so that m.Stop can still
	// flush queued sends before disconnecting.
	m, err := master.New(context.Background(), registry, cfg.Listen, *ipcSocket, dial, uploader)
	if err != nil {
		log.Fatalf("Critical error starting master: %v", err)
	}

	supervisor := ipc.NewSupervisor(binary, opSettings.Workers, opSettings.RespawnInterval, func(slot int) []string {
		return []string{*configPath, *ipcSocket}
	})
	supervisor.Start(ctx, opSettings.Workers)

	log.Printf("Master is ready: pip listener on %s, ipc socket %s, %d worker slots", cfg.Listen, *ipcSocket, opSettings.Workers)

	<-ctx.Done()

	log.Println("Shutdown signal received. Starting graceful shutdown...")
	m.Stop(opSettings.ShutdownTimeout)
	supervisor.Wait()

	log.Println("Exiting.")
}
