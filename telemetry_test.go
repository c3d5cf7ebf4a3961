package abtray

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestResolveOTLPTarget(t *testing.T) {
	cases := []struct {
		raw  string
		want otlpTarget
	}{
		{"collector", otlpTarget{protocol: "grpc", endpoint: "collector:4317", insecure: true}},
		{"collector:9999", otlpTarget{protocol: "grpc", endpoint: "collector:9999", insecure: true}},
		{"grpc://collector", otlpTarget{protocol: "grpc", endpoint: "collector:4317", insecure: true}},
		{"grpcs://collector:4443", otlpTarget{protocol: "grpc", endpoint: "collector:4443"}},
		{"http://collector/v1/traces/", otlpTarget{protocol: "http", endpoint: "collector:4318", path: "/v1/traces", insecure: true}},
		{"https://collector:443", otlpTarget{protocol: "http", endpoint: "collector:443"}},
	}
	for _, tc := range cases {
		got, err := resolveOTLPTarget(tc.raw)
		if err != nil {
			t.Fatalf("resolveOTLPTarget(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("resolveOTLPTarget(%q)=%+v want %+v", tc.raw, got, tc.want)
		}
	}
	for _, raw := range []string{"", "ftp://collector", "http://"} {
		if _, err := resolveOTLPTarget(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestSetupTelemetryDisabledReturnsNil(t *testing.T) {
	tel, err := SetupTelemetry(context.Background(), Config{}, prometheus.NewRegistry(), nil)
	if err != nil || tel != nil {
		t.Fatalf("SetupTelemetry()=%v,%v want nil,nil", tel, err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil shutdown: %v", err)
	}
}

func TestSetupTelemetryRuntimeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel, err := SetupTelemetry(context.Background(), Config{RuntimeMetrics: true}, reg, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if tel == nil {
		t.Fatal("expected telemetry bundle")
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupTelemetryRuntimeMetricsRequiresRegistry(t *testing.T) {
	if _, err := SetupTelemetry(context.Background(), Config{RuntimeMetrics: true}, nil, nil); err == nil {
		t.Fatal("expected error without registry")
	}
}
