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
	"github.com/bdobrica/Mimic/internal/controller/app"
)

func main() {
	fmt.Println(version.Info("mimic-controller"))

	logging.Setup(environment.StringOr("LOG_LEVEL", "info"), environment.StringOr("LOG_FORMAT", "text"))

	config, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller, err := app.New(ctx, config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize controller: %v\n", err)
		os.Exit(1)
	}

	if err := controller.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running controller: %v\n", err)
		os.Exit(1)
	}
}
