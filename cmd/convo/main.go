package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"convo/internal/api"
	"convo/internal/bus"
	"convo/internal/call"
	"convo/internal/cipher"
	"convo/internal/config"
	"convo/internal/sync"
	"convo/internal/ui"
)

func setupLogger() *log.Logger {
	return log.New(os.Stdout, "[CLIENT] ", log.LstdFlags|log.Lshortfile)
}

func main() {
	_ = godotenv.Load()

	name := flag.String("name", os.Getenv("CONVO_NAME"), "account name")
	password := flag.String("password", os.Getenv("CONVO_PASSWORD"), "account password")
	register := flag.Bool("register", false, "create the account before signing in")
	flag.Parse()

	logger := setupLogger()
	cfg := config.Load()
	if *name == "" || *password == "" {
		logger.Fatal("set -name and -password (or CONVO_NAME / CONVO_PASSWORD)")
	}

	client := api.NewClient(cfg.ServerURL, cfg.RequestTimeout)

	var sess api.Session
	var err error
	if *register {
		sess, err = client.Register(api.RegisterRequest{Name: *name, Password: *password})
	} else {
		sess, err = client.Login(*name, *password)
	}
	if err != nil {
		logger.Fatalf("sign in failed: %v", err)
	}
	logger.Printf("signed in as %s (%s)", sess.Name, sess.UserID)

	busClient := bus.New(cfg.SocketURL, sess.AccessToken)
	bridge := ui.NewBridge()

	// The peer-connection/media layer is an external collaborator;
	// the in-memory implementation stands in for it here.
	orch := sync.New(sync.Config{
		MyID:     sess.UserID,
		MyName:   sess.Name,
		Token:    client.AccessToken,
		Emitter:  busClient,
		Uploader: client,
		Cipher:   cipher.New(cfg.CipherKey),
		Notifier: bridge,
		Peering:  call.NewFakeNetwork(),
		Media:    call.FakeMedia{},
	})
	orch.OnChange(bridge.StateChanged)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go busClient.Run(ctx)
	go orch.Run(busClient.Events())

	program := tea.NewProgram(ui.InitialSidebarModel(orch), tea.WithAltScreen())
	bridge.Attach(program)

	client.OnSessionExpired(func() {
		logger.Println("session expired, sign in again")
		program.Quit()
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		logger.Fatalf("terminal error: %v", err)
	}

	if err := orch.EndCall(); err != nil {
		logger.Printf("hang up: %v", err)
	}
	cancel()
	logger.Println("Client shutting down...")
}
