package companion

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	memoryclient "github.com/lanonasis/memory-client-go"
	"github.com/lanonasis/memory-client-go/logging"
)

// Service keeps a resilient connection to the memory service alive, starting
// and supervising the local server when asked to.
type Service struct {
	client *memoryclient.Client
	logger *zap.Logger
}

// New builds a companion service from CLI options.
func New(ctx context.Context, options *Options) (*Service, error) {
	clientOptions := &memoryclient.Options{
		Transport: memoryclient.TransportOptions{
			Preference:   options.Preference,
			HTTPURL:      options.HTTPURL,
			WebSocketURL: options.WebSocketURL,
		},
		Log: logging.Config{Level: options.LogLevel},
	}
	if options.APIKey != "" || options.OAuth2ConfigURL != "" {
		clientOptions.Auth = &memoryclient.AuthOptions{
			APIKey:          options.APIKey,
			OAuth2ConfigURL: options.OAuth2ConfigURL,
			EncryptionKey:   options.EncryptionKey,
		}
	}
	if options.Local {
		clientOptions.Local = &memoryclient.LocalOptions{Enabled: true}
	}
	client, err := memoryclient.NewClient(ctx, clientOptions)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(clientOptions.Log)
	if err != nil {
		return nil, err
	}
	return &Service{client: client, logger: logger}, nil
}

// PrintStatus connects once and writes the status snapshot to stdout.
func (s *Service) PrintStatus(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		s.logger.Warn("connect failed", zap.Error(err))
	}
	status := s.client.Status()
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Serve connects and holds the connection until an interrupt arrives.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		return err
	}
	status := s.client.Status()
	s.logger.Info("connected",
		zap.String("transport", status.ActiveTransport),
		zap.Bool("realTime", status.RealTimeCapable))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case sig := <-signals:
		s.logger.Info("shutting down", zap.String("signal", sig.String()))
	}
	return s.client.Close()
}
