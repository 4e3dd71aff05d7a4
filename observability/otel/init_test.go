package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
)

func findAttr(res *resource.Resource, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range res.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestBuildResourceCarriesDeploymentAttributes(t *testing.T) {
	res, err := buildResource(Config{
		ServiceName: "marketd",
		Environment: "staging",
		Network:     "localnet",
		Markets:     []string{"TUSD", "TBTC"},
	})
	if err != nil {
		t.Fatalf("build resource: %v", err)
	}

	if value, ok := findAttr(res, "service.name"); !ok || value.AsString() != "marketd" {
		t.Fatalf("missing service name: %v", value)
	}
	if value, ok := findAttr(res, "service.namespace"); !ok || value.AsString() != "termlend" {
		t.Fatalf("missing namespace: %v", value)
	}
	if value, ok := findAttr(res, "termlend.network"); !ok || value.AsString() != "localnet" {
		t.Fatalf("missing network: %v", value)
	}
	value, ok := findAttr(res, "termlend.markets")
	if !ok {
		t.Fatal("missing markets attribute")
	}
	markets := value.AsStringSlice()
	if len(markets) != 2 || markets[0] != "TBTC" || markets[1] != "TUSD" {
		t.Fatalf("markets should be sorted: %v", markets)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without a service name")
	}
}

func TestInitWithoutSignalsShutsDownCleanly(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "marketd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = secret , team=core,, broken pair ")
	if len(headers) != 2 {
		t.Fatalf("unexpected header count: %v", headers)
	}
	if headers["api-key"] != "secret" || headers["team"] != "core" {
		t.Fatalf("unexpected headers: %v", headers)
	}
}
