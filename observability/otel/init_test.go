package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc , ,broken, =skip,tenant=cdp")
	if len(got) != 2 || got["api-key"] != "abc" || got["tenant"] != "cdp" {
		t.Fatalf("unexpected headers: %v", got)
	}
}

func TestInitWithoutExporters(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
	shutdown, err := Init(context.Background(), Config{ServiceName: "vaultd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestResourceAttributesNamespacesDeployment(t *testing.T) {
	attrs := ResourceAttributes(Config{
		ServiceName: "vaultd",
		Environment: "staging",
		Attributes: map[string]string{
			"oracle_pair":      "ETH/USD",
			"collateral_asset": "ETH",
			"debt_token":       " ",
			" ":                "ignored",
		},
	})
	got := map[attribute.Key]string{}
	var order []attribute.Key
	for _, kv := range attrs {
		got[kv.Key] = kv.Value.AsString()
		order = append(order, kv.Key)
	}
	if got["service.name"] != "vaultd" || got["deployment.environment"] != "staging" {
		t.Fatalf("missing service identity: %v", got)
	}
	if got["cdp.collateral_asset"] != "ETH" || got["cdp.oracle_pair"] != "ETH/USD" {
		t.Fatalf("missing deployment attributes: %v", got)
	}
	if _, ok := got["cdp.debt_token"]; ok {
		t.Fatalf("blank values must be skipped: %v", got)
	}
	if len(order) != 4 || order[2] != "cdp.collateral_asset" || order[3] != "cdp.oracle_pair" {
		t.Fatalf("unexpected attribute order %v", order)
	}
}
