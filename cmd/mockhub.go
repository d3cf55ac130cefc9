package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/transfa/disbursement-service/internal/config"
	"github.com/transfa/disbursement-service/internal/mockhub"
	"github.com/transfa/disbursement-service/pkg/fspiop"
)

func mockHubCmd() *cobra.Command {
	var failIdentifiers []string
	var dropPhases []string

	cmd := &cobra.Command{
		Use:   "mockhub",
		Short: "Run the payment hub simulator",
		Long: `Run a payment hub simulator that answers party lookups, quotes and
transfers with callbacks to MOCK_HUB_CALLBACK_URL after MOCK_HUB_DELAY_MS.

Examples:
  disbursement mockhub
  disbursement mockhub --fail-identifier 22507000002 --drop TRANSFER`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config-dir")
			cfg, err := config.LoadConfig(dir)
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}

			hub := mockhub.New(mockhub.Options{
				HubID:       cfg.MockHubID,
				CallbackURL: cfg.MockHubCallbackURL,
				Delay:       cfg.MockHubDelay(),
				Signer:      fspiop.NewSigner(cfg.HubSigningSecret),
			})
			if len(failIdentifiers) > 0 {
				hub.SetFailure(mockhub.FailIdentifiers(failIdentifiers...))
			}
			for _, phase := range dropPhases {
				hub.Drop(mockhub.Phase(phase))
			}
			return serveMockHub(hub, cfg.MockHubPort)
		},
	}
	cmd.Flags().StringSliceVar(&failIdentifiers, "fail-identifier", nil, "party identifiers answered with a lookup error")
	cmd.Flags().StringSliceVar(&dropPhases, "drop", nil, "phases whose callbacks are never sent (LOOKUP, QUOTE, TRANSFER)")
	return cmd
}

func serveMockHub(hub *mockhub.Server, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("level=info component=mockhub msg=\"hub simulator listening\" addr=%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=mockhub msg=\"shutdown failed\" err=%v", err)
	}
	hub.Close()
	return nil
}
