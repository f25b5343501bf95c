package daemon

import (
	"context"
	"fmt"

	"github.com/cccc-dev/cccc/pkg/config"
	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/imbridge"
)

// GetIM returns groupID's current IM binding, if any.
func (d *Daemon) GetIM(ctx context.Context, groupID string) (*config.IMBinding, error) {
	doc, err := config.LoadGroupDocument(d.Config.RuntimeHome, groupID)
	if err != nil {
		return nil, fmt.Errorf("load group document: %w", err)
	}
	return doc.IM, nil
}

// SetIM records groupID's platform/channel binding in group.yaml and issues
// a fresh one-time binding key for the external adapter to redeem.
func (d *Daemon) SetIM(ctx context.Context, principal contracts.Principal, groupID, platform, channel string) (imbridge.Binding, error) {
	if err := requireUser(principal); err != nil {
		return imbridge.Binding{}, err
	}

	doc, err := config.LoadGroupDocument(d.Config.RuntimeHome, groupID)
	if err != nil {
		return imbridge.Binding{}, fmt.Errorf("load group document: %w", err)
	}
	doc.IM = &config.IMBinding{Platform: platform, Channel: channel}
	if err := config.SaveGroupDocument(d.Config.RuntimeHome, doc); err != nil {
		return imbridge.Binding{}, fmt.Errorf("save group document: %w", err)
	}

	return d.IM.Issue(groupID, platform, channel)
}

// UnsetIM clears groupID's IM binding. Any outstanding unredeemed binding
// key is left to expire on its own TTL rather than tracked for early
// revocation, mirroring imbridge.Registry's process-local, best-effort
// posture.
func (d *Daemon) UnsetIM(ctx context.Context, principal contracts.Principal, groupID string) error {
	if err := requireUser(principal); err != nil {
		return err
	}
	doc, err := config.LoadGroupDocument(d.Config.RuntimeHome, groupID)
	if err != nil {
		return fmt.Errorf("load group document: %w", err)
	}
	doc.IM = nil
	return config.SaveGroupDocument(d.Config.RuntimeHome, doc)
}
