package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextNotifier_CollectsPerRequest(t *testing.T) {
	c := &Collector{}
	ctx := WithCollector(context.Background(), c)

	Success(ctx, ContextNotifier{}, "agregado")
	Error(ctx, ContextNotifier{}, "falló")

	got := c.Drain()
	assert.Equal(t, []Notice{
		{Level: LevelSuccess, Message: "agregado"},
		{Level: LevelError, Message: "falló"},
	}, got)
	assert.Empty(t, c.Drain())
}

func TestContextNotifier_NoCollector(t *testing.T) {
	assert.NotPanics(t, func() {
		Success(context.Background(), ContextNotifier{}, "ignored")
	})
	assert.Nil(t, FromContext(context.Background()))
}
