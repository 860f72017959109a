package natsutil

import (
	"testing"

	"github.com/nats-io/nats.go"
)

func TestHeaderCarrierRoundTrip(t *testing.T) {
	msg := &nats.Msg{}
	c := (*headerCarrier)(msg)

	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Errorf("Get = %q", got)
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != "Traceparent" {
		t.Errorf("Keys = %v", keys)
	}
}

func TestHeaderCarrierNilHeader(t *testing.T) {
	c := (*headerCarrier)(&nats.Msg{})
	if got := c.Get("missing"); got != "" {
		t.Errorf("Get on nil header = %q", got)
	}
	if keys := c.Keys(); keys != nil {
		t.Errorf("Keys on nil header = %v", keys)
	}
}
