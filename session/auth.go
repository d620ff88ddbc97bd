package session

import (
	"context"

	"github.com/eclipse/paho.golang/paho"

	"github.com/sandrolain/mqtt-rpc/mqtterrors"
)

// pahoAuther implements paho.golang/paho's Auther interface (see
// other_examples/b4beced1_netdata-paho.golang and
// other_examples/c90d38aa_bkneis-paho.golang's Client.AuthHandler wiring),
// handling broker-initiated AUTH challenges - distinct from Reauthenticate's
// client-initiated exchange. The broker calls Authenticate with each AUTH
// packet it sends; reason code 0x18 means "continue", 0x00 means the
// exchange succeeded and Authenticated() is called instead.
type pahoAuther struct {
	continuer  AuthContinuer
	authMethod string
}

func (a *pahoAuther) Authenticate(incoming *paho.Auth) *paho.Auth {
	var serverData []byte
	if incoming.Properties != nil {
		serverData = incoming.Properties.AuthData
	}
	if a.continuer == nil {
		return &paho.Auth{ReasonCode: 0x00}
	}
	data, ok, err := a.continuer(serverData)
	if err != nil || !ok {
		return &paho.Auth{ReasonCode: 0x00}
	}
	return &paho.Auth{
		ReasonCode: 0x18,
		Properties: &paho.AuthProperties{
			AuthMethod: a.authMethod,
			AuthData:   data,
		},
	}
}

func (a *pahoAuther) Authenticated() {}

// Reauthenticate drives an enhanced (AUTH-packet) re-authentication
// exchange over the current connection using the client's AuthContinuer.
// It returns nil without sending anything if no AuthContinuer was configured
// or AuthMethod is unset, and returns a StateInvalid error if not currently
// connected.
func (c *Client) Reauthenticate(ctx context.Context) error {
	if c.continuer == nil || c.settings.AuthMethod == "" {
		return nil
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return mqtterrors.New(mqtterrors.StateInvalid, "session client is not connected")
	}

	var serverData []byte
	for {
		data, ok, err := c.continuer(serverData)
		if err != nil {
			return mqtterrors.Wrap(mqtterrors.MqttError, "auth continuer", err)
		}
		if !ok {
			return nil
		}
		resp, err := conn.Authenticate(ctx, &paho.Auth{
			ReasonCode: 0x19, // ReAuthenticate
			Properties: &paho.AuthProperties{
				AuthMethod: c.settings.AuthMethod,
				AuthData:   data,
			},
		})
		if err != nil {
			return mqtterrors.Wrap(mqtterrors.MqttError, "authenticate", err)
		}
		if resp.ReasonCode == 0x00 {
			return nil
		}
		serverData = resp.Properties.AuthData
	}
}
