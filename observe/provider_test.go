package observe

import (
	"context"
	"testing"

	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

func TestServiceResource(t *testing.T) {
	res, err := serviceResource(context.Background(), ProviderConfig{ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("serviceResource failed: %v", err)
	}
	set := res.Set()
	if v, ok := set.Value(semconv.ServiceNameKey); !ok || v.AsString() != "relay" {
		t.Errorf("Expected service name relay, got %q", v.AsString())
	}
	if v, ok := set.Value(semconv.ServiceVersionKey); !ok || v.AsString() != "1.2.3" {
		t.Errorf("Expected service version 1.2.3, got %q", v.AsString())
	}
}

func TestServiceResource_NoVersion(t *testing.T) {
	res, err := serviceResource(context.Background(), ProviderConfig{ServiceName: "relay-test"})
	if err != nil {
		t.Fatalf("serviceResource failed: %v", err)
	}
	set := res.Set()
	if v, _ := set.Value(semconv.ServiceNameKey); v.AsString() != "relay-test" {
		t.Errorf("Expected service name relay-test, got %q", v.AsString())
	}
	if _, ok := set.Value(semconv.ServiceVersionKey); ok {
		t.Error("Expected no service version attribute")
	}
}
