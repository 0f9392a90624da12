package daemon

import (
	"testing"
	"time"
)

func TestConnectionLossMonitorBreachesAfterThreshold(t *testing.T) {
	t.Parallel()
	m := NewConnectionLossMonitor(10 * time.Millisecond)
	m.OnDisconnected()
	if m.Breached() {
		t.Fatal("should not breach immediately")
	}
	time.Sleep(15 * time.Millisecond)
	if !m.Breached() {
		t.Fatal("expected breach after threshold elapsed")
	}
}

func TestConnectionLossMonitorResetsOnReconnect(t *testing.T) {
	t.Parallel()
	m := NewConnectionLossMonitor(10 * time.Millisecond)
	m.OnDisconnected()
	time.Sleep(15 * time.Millisecond)
	m.OnConnected()
	if m.Breached() {
		t.Fatal("expected no breach after reconnecting")
	}
}

func TestHeartbeatMonitorTimesOut(t *testing.T) {
	t.Parallel()
	m := NewHeartbeatMonitor(10 * time.Millisecond)
	if m.IsTimedOut() {
		t.Fatal("should not be timed out immediately after construction")
	}
	time.Sleep(15 * time.Millisecond)
	if !m.IsTimedOut() {
		t.Fatal("expected timeout after exceeding window")
	}
	m.Beat()
	if m.IsTimedOut() {
		t.Fatal("expected Beat to reset the timeout")
	}
}

func TestHeartbeatMonitorDisabledWhenTimeoutNonPositive(t *testing.T) {
	t.Parallel()
	m := NewHeartbeatMonitor(0)
	time.Sleep(5 * time.Millisecond)
	if m.IsTimedOut() {
		t.Fatal("a non-positive timeout should disable the monitor")
	}
}
