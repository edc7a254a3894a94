package otel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	dev := Config{SampleRatio: 0.2}
	dev.normalize()
	assert.Equal(t, "development", dev.Environment)
	assert.Equal(t, 1.0, dev.SampleRatio)

	prod := Config{Environment: "production", SampleRatio: 3}
	prod.normalize()
	assert.Equal(t, 0.1, prod.SampleRatio)

	kept := Config{Environment: "staging", SampleRatio: 0.5}
	kept.normalize()
	assert.Equal(t, 0.5, kept.SampleRatio)
}

func TestGRPCEndpoint(t *testing.T) {
	assert.Equal(t, "collector:4317", grpcEndpoint("http://collector:4317"))
	assert.Equal(t, "collector:4317", grpcEndpoint("https://collector:4317"))
	assert.Equal(t, "localhost:4317", grpcEndpoint("localhost:4317"))
}

func TestServiceAttributesOmitEmptyVersion(t *testing.T) {
	attrs := serviceAttributes(Config{ServiceName: "safecircle-api", Environment: "production"})
	for _, kv := range attrs {
		assert.NotEqual(t, "service.version", string(kv.Key))
	}

	attrs = serviceAttributes(Config{ServiceName: "safecircle-api", Environment: "production", ServiceVersion: "1.2.0"})
	found := false
	for _, kv := range attrs {
		if kv.Key == "service.version" {
			found = true
			assert.Equal(t, "1.2.0", kv.Value.AsString())
		}
	}
	assert.True(t, found)
}
