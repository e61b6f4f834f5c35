// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux
// +build !linux

package supervisor

import "fmt"

// Stub implementation for non-Linux platforms; NFQUEUE/NFLOG binding
// itself does not work here either.
func validateInterface(ifaceName, netnsName string) error {
	if ifaceName == "" && netnsName == "" {
		return nil
	}
	return fmt.Errorf("interface validation is not supported on this platform")
}
