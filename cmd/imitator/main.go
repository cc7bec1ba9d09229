package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/bdobrica/Mimic/common/environment"
	"github.com/bdobrica/Mimic/common/logging"
	"github.com/bdobrica/Mimic/common/version"
	"github.com/bdobrica/Mimic/internal/imitator/app"
)

func main() {
	fmt.Println(version.Info("mimic-imitator"))

	logging.Setup(environment.StringOr("LOG_LEVEL", "info"), environment.StringOr("LOG_FORMAT", "text"))

	config, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	imitator, err := app.New(ctx, config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize imitator: %v\n", err)
		os.Exit(1)
	}

	if err := imitator.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running imitator: %v\n", err)
		os.Exit(1)
	}
}
