// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package testutil

import (
	"runtime"
	"testing"

	"github.com/vishvananda/netns"
)

// InNetworkNamespace runs fn on a goroutine-locked OS thread inside a fresh
// network namespace, restoring the original namespace afterwards. Sockets and
// addresses the test creates are invisible to the host and vanish with the
// namespace, so tests can bind privileged ports like :53 and :67 without
// colliding with anything real. Skips unless the VM test environment is set.
func InNetworkNamespace(t *testing.T, fn func()) {
	t.Helper()
	RequireVM(t)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	if err != nil {
		t.Fatalf("getting current netns: %v", err)
	}
	defer orig.Close()

	ns, err := netns.New()
	if err != nil {
		t.Fatalf("creating netns: %v", err)
	}
	defer ns.Close()
	defer func() {
		if err := netns.Set(orig); err != nil {
			t.Fatalf("restoring netns: %v", err)
		}
	}()

	fn()
}
