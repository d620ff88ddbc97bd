package session

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Settings configures a Client's MQTT v5 connection. Field tags mirror the
// env/validator binding style used throughout this module's config loader
// (see config.LoadEnv and config.LoadFile), so Settings can be populated directly from the
// environment or a static file.
type Settings struct {
	ClientID string `env:"CLIENT_ID" yaml:"clientId" validate:"required"`
	Hostname string `env:"HOSTNAME" yaml:"hostname" validate:"required"`
	TCPPort  int    `env:"TCP_PORT" yaml:"tcpPort" envDefault:"8883"`

	UseTLS          bool   `env:"USE_TLS" yaml:"useTls" envDefault:"true"`
	CAFile          string `env:"CA_FILE" yaml:"caFile"`
	CertFile        string `env:"CERT_FILE" yaml:"certFile"`
	KeyFile         string `env:"KEY_FILE" yaml:"keyFile"`
	KeyFilePassword string `env:"KEY_FILE_PASSWORD" yaml:"keyFilePassword"`

	Username     string `env:"USERNAME" yaml:"username"`
	Password     string `env:"PASSWORD" yaml:"password"`
	PasswordFile string `env:"PASSWORD_FILE" yaml:"passwordFile"`

	CleanStart            bool          `env:"CLEAN_START" yaml:"cleanStart" envDefault:"true"`
	KeepAlive             time.Duration `env:"KEEP_ALIVE" yaml:"keepAlive" envDefault:"60s"`
	SessionExpiryInterval time.Duration `env:"SESSION_EXPIRY_INTERVAL" yaml:"sessionExpiryInterval" envDefault:"0s"`
	ReceiveMaximum        uint16        `env:"RECEIVE_MAXIMUM" yaml:"receiveMaximum" envDefault:"65535"`
	ConnectionTimeout     time.Duration `env:"CONNECTION_TIMEOUT" yaml:"connectionTimeout" envDefault:"30s"`

	AuthMethod        string        `env:"AUTH_METHOD" yaml:"authMethod"`
	AuthDataFile      string        `env:"AUTH_DATA_FILE" yaml:"authDataFile"`
	AuthRefreshPeriod time.Duration `env:"AUTH_REFRESH_PERIOD" yaml:"authRefreshPeriod" envDefault:"0s"`

	OutgoingQueueCapacity int `env:"OUTGOING_QUEUE_CAPACITY" yaml:"outgoingQueueCapacity" envDefault:"65535"`

	MinReconnectBackoff time.Duration `env:"MIN_RECONNECT_BACKOFF" yaml:"minReconnectBackoff" envDefault:"128ms"`
	MaxReconnectBackoff time.Duration `env:"MAX_RECONNECT_BACKOFF" yaml:"maxReconnectBackoff" envDefault:"60s"`
	MaxReconnectAttempts int          `env:"MAX_RECONNECT_ATTEMPTS" yaml:"maxReconnectAttempts" envDefault:"0"`
}

// resolvePassword returns the effective password, reading PasswordFile if
// set and Password is empty, mirroring the teacher's secrets-from-file
// convention (see src/common/secrets/secrets.go in the reference repo).
func (s Settings) resolvePassword() (string, error) {
	if s.Password != "" {
		return s.Password, nil
	}
	if s.PasswordFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.PasswordFile)
	if err != nil {
		return "", fmt.Errorf("session: read password file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s Settings) resolveAuthData() ([]byte, error) {
	if s.AuthDataFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.AuthDataFile)
	if err != nil {
		return nil, fmt.Errorf("session: read auth data file: %w", err)
	}
	return data, nil
}

func (s Settings) address() string {
	return fmt.Sprintf("%s:%d", s.Hostname, s.TCPPort)
}
