package memoryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/viant/jsonrpc"
	"go.uber.org/zap"

	"github.com/lanonasis/memory-client-go/auth"
	"github.com/lanonasis/memory-client-go/local"
	"github.com/lanonasis/memory-client-go/logging"
	"github.com/lanonasis/memory-client-go/transport"
)

// Options configures a memory service client. Fields can be populated from
// CLI flags, YAML or JSON.
type Options struct {
	Transport TransportOptions `yaml:"transport" json:"transport"`
	Auth      *AuthOptions     `yaml:"auth,omitempty" json:"auth,omitempty"`
	Local     *LocalOptions    `yaml:"local,omitempty" json:"local,omitempty"`
	Log       logging.Config   `yaml:"log,omitempty" json:"log,omitempty"`
}

// TransportOptions selects remote channels and resilience tuning.
type TransportOptions struct {
	Preference       string `yaml:"preference,omitempty" json:"preference,omitempty" short:"p" long:"preference" description:"transport preference" choice:"websocket" choice:"http" choice:"auto"`
	WebSocketURL     string `yaml:"websocketURL,omitempty" json:"websocketURL,omitempty" short:"w" long:"ws-url" description:"websocket endpoint"`
	HTTPURL          string `yaml:"httpURL,omitempty" json:"httpURL,omitempty" short:"u" long:"http-url" description:"http endpoint"`
	TimeoutMs        int    `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty" long:"timeout-ms" description:"per-request timeout in ms"`
	DisableRealTime  bool   `yaml:"disableRealTime,omitempty" json:"disableRealTime,omitempty" long:"disable-real-time" description:"prefer request/response over streaming"`
	FailureWindowMs  int    `yaml:"failureWindowMs,omitempty" json:"failureWindowMs,omitempty" long:"failure-window-ms" description:"sliding failure window in ms"`
	FailureThreshold int    `yaml:"failureThreshold,omitempty" json:"failureThreshold,omitempty" long:"failure-threshold" description:"failures within the window that trigger fallback"`
}

// AuthOptions carries either a static API key or an OAuth2 config location.
type AuthOptions struct {
	APIKey          string `yaml:"apiKey,omitempty" json:"apiKey,omitempty" short:"k" long:"api-key" description:"service api key"`
	APIKeyHeader    string `yaml:"apiKeyHeader,omitempty" json:"apiKeyHeader,omitempty" long:"api-key-header" description:"header carrying the api key"`
	OAuth2ConfigURL string `yaml:"oauth2ConfigURL,omitempty" json:"oauth2ConfigURL,omitempty" short:"c" long:"oauth-config" description:"oauth2 config file"`
	EncryptionKey   string `yaml:"encryptionKey,omitempty" json:"encryptionKey,omitempty" long:"oauth-key" description:"oauth2 config encryption key"`
}

// LocalOptions enables the locally-spawned companion server.
type LocalOptions struct {
	Enabled   bool   `yaml:"enabled,omitempty" json:"enabled,omitempty" long:"local" description:"manage a local server process"`
	ConfigURL string `yaml:"configURL,omitempty" json:"configURL,omitempty" long:"local-config" description:"local server config location"`
}

// Init fills defaults.
func (o *Options) Init() {
	if o.Transport.Preference == "" {
		o.Transport.Preference = string(transport.PreferAuto)
	}
}

// credentialStore builds the auth store from the configured options; API key
// wins when both are present.
func (o *Options) credentialStore(ctx context.Context) (auth.Store, error) {
	if o.Auth == nil {
		return nil, nil
	}
	if o.Auth.APIKey != "" {
		store := auth.NewStaticStore(o.Auth.APIKey)
		if o.Auth.APIKeyHeader != "" {
			store.HeaderName = o.Auth.APIKeyHeader
		}
		return store, nil
	}
	if o.Auth.OAuth2ConfigURL != "" {
		return auth.NewScyStore(ctx, o.Auth.OAuth2ConfigURL, o.Auth.EncryptionKey)
	}
	return nil, nil
}

// Client is the umbrella entry point: it owns the transport manager and,
// when enabled, the local server manager.
type Client struct {
	options *Options
	logger  *zap.Logger
	manager *transport.Manager
	local   *local.Manager
}

// NewClient builds a client from options: credential store, transport
// manager and the optional local server manager.
func NewClient(ctx context.Context, options *Options) (*Client, error) {
	if options == nil {
		options = &Options{}
	}
	options.Init()
	logger, err := logging.New(options.Log)
	if err != nil {
		return nil, err
	}
	credentials, err := options.credentialStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build credential store: %w", err)
	}
	managerConfig := transport.ManagerConfig{
		Preference:       transport.Preference(options.Transport.Preference),
		WebSocketURL:     options.Transport.WebSocketURL,
		HTTPURL:          options.Transport.HTTPURL,
		Credentials:      credentials,
		Timeout:          time.Duration(options.Transport.TimeoutMs) * time.Millisecond,
		DisableRealTime:  options.Transport.DisableRealTime,
		FailureWindow:    time.Duration(options.Transport.FailureWindowMs) * time.Millisecond,
		FailureThreshold: options.Transport.FailureThreshold,
		Logger:           logger,
	}
	manager, err := transport.NewManager(managerConfig)
	if err != nil {
		return nil, err
	}
	client := &Client{options: options, logger: logger, manager: manager}
	if options.Local != nil && options.Local.Enabled {
		localOptions := []local.Option{local.WithLogger(logger)}
		if options.Local.ConfigURL != "" {
			localOptions = append(localOptions, local.WithConfigStore(local.NewConfigStore(options.Local.ConfigURL)))
		}
		client.local, err = local.NewManager(ctx, localOptions...)
		if err != nil {
			return nil, err
		}
	}
	return client, nil
}

// Connect establishes the preferred transport, starting the local server
// first when one is managed and configured to auto-start.
func (c *Client) Connect(ctx context.Context) error {
	if c.local != nil && c.local.Config().AutoStart {
		if err := c.local.ConnectLocal(ctx); err != nil {
			c.logger.Warn("local server unavailable, continuing with remote", zap.Error(err))
		}
	}
	return c.manager.Connect(ctx)
}

// Call issues a raw JSON-RPC request and returns the result payload.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	request, err := jsonrpc.NewRequest(method, params)
	if err != nil {
		return nil, err
	}
	response, err := c.manager.Send(ctx, request)
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, response.Error
	}
	return response.Result, nil
}

// Manager exposes the transport manager for status and event access.
func (c *Client) Manager() *transport.Manager {
	return c.manager
}

// Local returns the local server manager, or nil when not enabled.
func (c *Client) Local() *local.Manager {
	return c.local
}

// Status reports the transport view of the connection.
func (c *Client) Status() transport.ManagerStatus {
	return c.manager.Status()
}

// Close releases the transport and stops any managed local server.
func (c *Client) Close() error {
	err := c.manager.Close()
	if c.local != nil {
		if localErr := c.local.Close(); err == nil {
			err = localErr
		}
	}
	return err
}
