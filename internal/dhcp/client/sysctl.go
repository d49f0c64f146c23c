// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package client

import (
	"fmt"
	"os"
	"strings"
)

// rpFilterPath returns /proc/sys/net/ipv4/conf/<iface>/rp_filter.
func rpFilterPath(iface string) string {
	return fmt.Sprintf("/proc/sys/net/ipv4/conf/%s/rp_filter", iface)
}

// disableRPFilter sets the interface's reverse-path-filter sysctl to 0 and
// returns the previous value so it can be restored on Stop.
func disableRPFilter(iface string) (previous string, err error) {
	path := rpFilterPath(iface)
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	previous = strings.TrimSpace(string(raw))
	if previous == "0" {
		return previous, nil
	}
	if err := os.WriteFile(path, []byte("0"), 0644); err != nil {
		return previous, err
	}
	return previous, nil
}

// restoreRPFilter writes back the value disableRPFilter observed before this
// client touched it.
func restoreRPFilter(iface, previous string) error {
	if previous == "" {
		return nil
	}
	return os.WriteFile(rpFilterPath(iface), []byte(previous), 0644)
}
