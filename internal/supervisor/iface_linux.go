// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package supervisor

import (
	"fmt"
	"net"

	"github.com/safchain/ethtool"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// validateInterface enters netnsName (when set) and confirms
// ifaceName's link is up before the caller binds any queues against
// it, so a dead link or a missing namespace fails fast at startup
// instead of the worker silently never seeing a packet.
func validateInterface(ifaceName, netnsName string) error {
	if netnsName != "" {
		ns, err := netns.GetFromName(netnsName)
		if err != nil {
			return fmt.Errorf("resolving network namespace %q: %w", netnsName, err)
		}
		defer ns.Close()
		if err := netns.Set(ns); err != nil {
			return fmt.Errorf("entering network namespace %q: %w", netnsName, err)
		}
	}

	if ifaceName == "" {
		return nil
	}

	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return fmt.Errorf("resolving interface %q: %w", ifaceName, err)
	}
	if link.Attrs().Flags&net.FlagUp == 0 {
		return fmt.Errorf("interface %q is down", ifaceName)
	}

	eth, err := ethtool.NewEthtool()
	if err != nil {
		return fmt.Errorf("opening ethtool handle: %w", err)
	}
	defer eth.Close()

	state, err := eth.LinkState(ifaceName)
	if err != nil {
		// Not every driver exposes link state over ethtool; the
		// interface up-flag check above already caught a hard-down
		// interface, so a failure here is not itself fatal.
		return nil
	}
	if state == 0 {
		return fmt.Errorf("interface %q reports no carrier", ifaceName)
	}
	return nil
}
