package companion

type Options struct {
	HTTPURL         string `short:"u" long:"http-url" description:"memory service http endpoint"`
	WebSocketURL    string `short:"w" long:"ws-url" description:"memory service websocket endpoint"`
	Preference      string `short:"p" long:"preference" description:"transport preference" choice:"websocket" choice:"http" choice:"auto" default:"auto"`
	APIKey          string `short:"k" long:"api-key" description:"service api key" env:"LANONASIS_API_KEY"`
	OAuth2ConfigURL string `short:"c" long:"oauth-config" description:"oauth2 config file"`
	EncryptionKey   string `long:"oauth-key" description:"oauth2 config encryption key"`
	Local           bool   `short:"l" long:"local" description:"manage the local server process"`
	LogLevel        string `long:"log-level" description:"log level" default:"info"`
	Status          bool   `short:"s" long:"status" description:"print connection status and exit"`
}
