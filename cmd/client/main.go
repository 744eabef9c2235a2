package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hybrid_chat/internal/model"
	"hybrid_chat/internal/service/app"
	"hybrid_chat/internal/utils/log"

	"go.uber.org/zap"
)

func main() {
	// os.Args[0] is the program name, os.Args[1:] are arguments
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: client <user_id> <peer_id> [host]")
		os.Exit(2)
	}

	userID, peerID := os.Args[1], os.Args[2]
	host := "localhost:8080"
	if len(os.Args) > 3 {
		host = os.Args[3]
	}

	// The TUI owns the terminal, so only errors reach stderr.
	if err := log.Init("error"); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	api, err := app.NewAPI(host)
	if err != nil {
		log.Fatal("init api client", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := app.NewApp(api)
	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	if err := c.Run(ctx, &model.User{ID: userID, Username: userID}, peerID); err != nil {
		log.Fatal("chat client exited", zap.Error(err))
	}
}
