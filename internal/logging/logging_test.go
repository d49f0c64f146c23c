package logging

import "testing"

func TestPackageLevelCalls(t *testing.T) {
	// These must not panic; they're the printf-style call shape used across
	// the DNS/DHCP services for one-off messages.
	Debug("discover on %s", "eth0")
	Info("lease allocated %s -> %s", "aa:bb", "10.0.0.5")
	Warn("retrying after %d timeouts", 2)
	Error("bind failed: %v", "eof")
}

func TestComponentLogger(t *testing.T) {
	lg := WithComponent("dhcp")
	if lg == nil {
		t.Fatal("expected non-nil logger")
	}
	lg.Info("starting", "iface", "eth0")
	lg.WithError(nil).Warn("degraded")
}
