package session

import (
	"context"

	"github.com/eclipse/paho.golang/paho"
)

// PahoClient is the subset of *paho.Client that Client depends on. Defining
// it as an interface (rather than depending on *paho.Client directly)
// mirrors the reference session client's PahoClient seam and lets tests -
// in this package and in packages built on top of session.Client, such as
// executor and invoker - exercise the reconnect/ack-ordering machinery
// against a fake transport instead of a real broker. Exported so dependent
// packages can implement it in their own tests.
type PahoClient interface {
	Connect(ctx context.Context, cp *paho.Connect) (*paho.Connack, error)
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Subscribe(ctx context.Context, s *paho.Subscribe) (*paho.Suback, error)
	Unsubscribe(ctx context.Context, u *paho.Unsubscribe) (*paho.Unsuback, error)
	Authenticate(ctx context.Context, a *paho.Auth) (*paho.AuthResponse, error)
	Disconnect(d *paho.Disconnect) error
	Ack(p *paho.Publish) error
}

// ClientFactory builds the PahoClient for one connection attempt, given the
// paho.ClientConfig dialAndConnect has assembled (Conn already set to the
// freshly dialed transport) and a callback to register for inbound
// publishes. The default, defaultClientFactory, wraps paho.NewClient and
// its StandardRouter; tests substitute a fake that never touches a real
// broker.
type ClientFactory func(conf paho.ClientConfig, onPublish func(*paho.Publish)) PahoClient

func defaultClientFactory(conf paho.ClientConfig, onPublish func(*paho.Publish)) PahoClient {
	conf.Router = paho.NewStandardRouter()
	cl := paho.NewClient(conf)
	cl.Router.RegisterHandler("#", onPublish)
	return cl
}
