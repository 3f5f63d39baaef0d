package lock

import (
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	if cfg.Lease != DefaultLease {
		t.Errorf("Lease = %v, want %v", cfg.Lease, DefaultLease)
	}
	if cfg.MaxHold != DefaultMaxHold {
		t.Errorf("MaxHold = %v, want %v", cfg.MaxHold, DefaultMaxHold)
	}
	if cfg.AcquireTimeout != DefaultAcquireTimeout {
		t.Errorf("AcquireTimeout = %v, want %v", cfg.AcquireTimeout, DefaultAcquireTimeout)
	}
	if cfg.SweepInterval != maxSweepInterval {
		// Lease/4 for an hour-long lease clamps to the ceiling.
		t.Errorf("SweepInterval = %v, want %v", cfg.SweepInterval, maxSweepInterval)
	}
}

func TestConfigSweepDerivation(t *testing.T) {
	t.Parallel()

	cfg := Config{Lease: 100 * time.Millisecond}.withDefaults()
	if cfg.SweepInterval != 25*time.Millisecond {
		t.Errorf("SweepInterval = %v, want lease/4 = 25ms", cfg.SweepInterval)
	}

	cfg = Config{Lease: 20 * time.Millisecond}.withDefaults()
	if cfg.SweepInterval != minSweepInterval {
		t.Errorf("SweepInterval = %v, want floor %v", cfg.SweepInterval, minSweepInterval)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	good := Config{Lease: time.Second, MaxHold: time.Minute, AcquireTimeout: time.Second}.withDefaults()
	if err := good.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	// A hold cap shorter than a quarter of the lease would force-expire
	// grants that are still heartbeating normally.
	bad := Config{Lease: time.Hour, MaxHold: time.Second, AcquireTimeout: time.Second}.withDefaults()
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error for max hold far below lease")
	}
}

func TestCanonicalPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"/", "/"},
		{"/f", "/f"},
		{"f", "/f"},
		{"/a/b/../c", "/a/c"},
		{"/a/b/", "/a/b"},
		{"//a//b", "/a/b"},
	}
	for _, tc := range cases {
		got, err := CanonicalPath(tc.in)
		if err != nil {
			t.Errorf("CanonicalPath(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("CanonicalPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := CanonicalPath(""); err == nil {
		t.Error("empty path should be rejected")
	}
}
