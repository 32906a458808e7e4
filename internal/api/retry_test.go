package api

import (
	"testing"
	"time"
)

func TestNextWaitPrefersServerHint(t *testing.T) {
	bo := newRequestBackoff()
	if got := nextWait(bo, 5*time.Second); got != 5*time.Second {
		t.Errorf("nextWait with hint = %v, want 5s", got)
	}
}

func TestNextWaitCapsServerHint(t *testing.T) {
	bo := newRequestBackoff()
	if got := nextWait(bo, 300*time.Second); got != retryMaxInterval {
		t.Errorf("nextWait with oversized hint = %v, want %v", got, retryMaxInterval)
	}
}

func TestNextWaitWithoutHint(t *testing.T) {
	bo := newRequestBackoff()
	got := nextWait(bo, 0)
	if got <= 0 || got > retryMaxInterval {
		t.Errorf("nextWait = %v, want within (0, %v]", got, retryMaxInterval)
	}
}
