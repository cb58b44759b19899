package bridge

import (
	"context"
	"fmt"

	"github.com/cyberinferno/go-tlsbridge/logger"
)

// NetworkBinder pins outbound traffic to a specific network interface. It is
// supplied by the host platform.
type NetworkBinder interface {
	// Bind waits until the target network is available and routes new
	// connections through it. It returns ErrNetworkUnavailable when the
	// network never appears.
	Bind(ctx context.Context) error
	// Unbind restores default routing.
	Unbind() error
}

// BindToNetwork asks the network binder to route subsequent connects through
// its network. Call it before Connect.
//
// Returns:
//   - ErrNetworkUnavailable if no binder is installed or no network appeared
func (b *Bridge) BindToNetwork(ctx context.Context) error {
	if b.binder == nil {
		return fmt.Errorf("%w: no network binder configured", ErrNetworkUnavailable)
	}

	if err := b.binder.Bind(ctx); err != nil {
		b.log.Warn("network binding failed", logger.Err(err))
		return err
	}

	b.log.Info("bound to network")
	return nil
}

// UnbindNetwork restores default routing. Without a binder it does nothing.
func (b *Bridge) UnbindNetwork() error {
	if b.binder == nil {
		return nil
	}

	if err := b.binder.Unbind(); err != nil {
		return fmt.Errorf("unbind network: %w", err)
	}

	b.log.Info("unbound from network")
	return nil
}
