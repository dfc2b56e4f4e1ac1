package wifi

import (
	"context"
	"testing"
	"time"
)

func TestConnectionSettings_WPA(t *testing.T) {
	s := connectionSettings("field-ap", "hunter22")

	if got := s["connection"]["type"].Value(); got != "802-11-wireless" {
		t.Errorf("connection.type = %v, want 802-11-wireless", got)
	}
	if got := s["connection"]["id"].Value(); got != "sentinel-field-ap" {
		t.Errorf("connection.id = %v, want sentinel-field-ap", got)
	}
	ssid, ok := s["802-11-wireless"]["ssid"].Value().([]byte)
	if !ok || string(ssid) != "field-ap" {
		t.Errorf("802-11-wireless.ssid = %v, want field-ap bytes", s["802-11-wireless"]["ssid"].Value())
	}
	sec, ok := s["802-11-wireless-security"]
	if !ok {
		t.Fatalf("security section missing for protected network")
	}
	if got := sec["psk"].Value(); got != "hunter22" {
		t.Errorf("psk = %v, want hunter22", got)
	}
}

func TestConnectionSettings_Open(t *testing.T) {
	s := connectionSettings("cafe", "")
	if _, ok := s["802-11-wireless-security"]; ok {
		t.Fatalf("open network must not carry a security section")
	}
}

func TestDisabled(t *testing.T) {
	var r Disabled
	ctx := context.Background()

	if r.Connected(ctx) {
		t.Errorf("Disabled.Connected() = true")
	}
	if found, err := r.Scan(ctx, "x"); found || err != ErrUnavailable {
		t.Errorf("Disabled.Scan() = %v, %v", found, err)
	}
	if err := r.Join(ctx, "x", "y", time.Second); err != ErrUnavailable {
		t.Errorf("Disabled.Join() = %v", err)
	}
}
