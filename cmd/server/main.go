// Command server runs the fieldsync system of record.
//
// Usage:
//
//	server [-c config.yaml] [-a :50051] [-d dsn|memory] ...
//	server token <user-id>    print an access token for a field worker
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/pashudhan/fieldsync/internal/logging"
	"github.com/pashudhan/fieldsync/internal/server"
	"github.com/pashudhan/fieldsync/internal/server/config"
)

func main() {
	args := os.Args[1:]

	cfg, err := config.LoadConfig(args)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if len(args) > 0 && args[0] == "token" {
		var userID string
		if len(args) > 1 {
			userID = args[1]
		}
		token, err := server.MintToken(cfg, userID)
		if err != nil {
			log.Fatalf("token: %v", err)
		}
		fmt.Println(token)
		return
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, true)

	ctx := context.Background()
	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		os.Exit(1)
	}
}
