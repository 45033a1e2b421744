// Package main provides the chatbridge broker daemon. It multiplexes chat
// sessions onto browser windows and serves them over a line-oriented TCP
// protocol for supervisor processes to drive.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/entrhq/chatbridge/pkg/app"
	"github.com/entrhq/chatbridge/pkg/config"
)

const version = "0.1.0" // Version of the chatbridge broker

// Flags holds the command line configuration overrides.
type Flags struct {
	ConfigPath  string
	Port        int
	ServiceURL  string
	Headless    bool
	SetHeadless bool
	ShowVersion bool
}

func main() {
	flags := parseFlags()

	if flags.ShowVersion {
		fmt.Printf("chatbridge v%s\n", version)
		return
	}

	// Load .env before the config layer reads the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	applyFlags(&cfg, flags)

	if err := run(cfg); err != nil {
		log.Fatalf("Broker error: %v", err)
	}
}

// parseFlags parses command line flags
func parseFlags() *Flags {
	flags := &Flags{}

	flag.StringVar(&flags.ConfigPath, "config", "", "Path to config file (default: ~/.chatbridge/config.yaml)")
	flag.IntVar(&flags.Port, "port", 0, "TCP port to listen on (overrides config)")
	flag.StringVar(&flags.ServiceURL, "service-url", "", "Chat service URL (overrides config)")
	flag.BoolVar(&flags.ShowVersion, "version", false, "Show version and exit")
	flag.BoolVar(&flags.Headless, "headless", false, "Run the browser headless (overrides config)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "chatbridge - chat session broker\n\n")
		fmt.Fprintf(os.Stderr, "Usage: chatbridge [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  CHATBRIDGE_PORT          TCP port to listen on\n")
		fmt.Fprintf(os.Stderr, "  CHATBRIDGE_MAX_SESSIONS  Session capacity ceiling\n")
		fmt.Fprintf(os.Stderr, "  CHATBRIDGE_IDLE_TIMEOUT  Idle session lifetime, e.g. 5m\n")
		fmt.Fprintf(os.Stderr, "  CHATBRIDGE_SERVICE_URL   Chat service URL\n")
		fmt.Fprintf(os.Stderr, "  CHATBRIDGE_HEADLESS      Run the browser headless (true/false)\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  chatbridge                        # Use ~/.chatbridge/config.yaml\n")
		fmt.Fprintf(os.Stderr, "  chatbridge -port 9002\n")
		fmt.Fprintf(os.Stderr, "  chatbridge -headless -service-url http://www.thebot.de/\n")
	}

	flag.Parse()
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "headless" {
			flags.SetHeadless = true
		}
	})
	return flags
}

// applyFlags layers explicit command line overrides on top of the loaded
// configuration.
func applyFlags(cfg *config.Config, flags *Flags) {
	if flags.Port != 0 {
		cfg.Port = flags.Port
	}
	if flags.ServiceURL != "" {
		cfg.ServiceURL = flags.ServiceURL
	}
	if flags.SetHeadless {
		cfg.Headless = flags.Headless
	}
}

// run brings the broker up and blocks until it shuts down.
func run(cfg config.Config) error {
	a := app.New(cfg)
	if err := a.Initialize(); err != nil {
		return fmt.Errorf("initializing broker: %w", err)
	}
	if err := a.Start(); err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		a.Shutdown()
	}()

	// Blocks until shutdown by signal or by a fatal dispatcher error.
	<-a.Done()
	return nil
}
