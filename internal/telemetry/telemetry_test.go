package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInit_DisabledReturnsNoop(t *testing.T) {
	p, err := Init(Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestTracer_ReturnsUsableTracer(t *testing.T) {
	tr := Tracer("planning")
	_, span := tr.Start(context.Background(), "cycle")
	defer span.End()
	assert.NotNil(t, span)
}
