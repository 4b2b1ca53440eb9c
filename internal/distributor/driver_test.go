package distributor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pharma-cart/internal/resilience"
)

func TestPage_ClickScreenshotsFirst(t *testing.T) {
	drv := newFakeDriver()
	ring := NewRing(3)
	p := NewPage("sting", drv, ring, testOpts.Timeouts)

	require.NoError(t, p.Click(context.Background(), "#go"))
	require.NoError(t, p.Type(context.Background(), "#q", "x"))
	assert.Equal(t, 2, ring.Len())
	assert.Equal(t, 2, drv.shots)
}

func TestPage_ClassifiesDetachedNodes(t *testing.T) {
	drv := newFakeDriver()
	drv.fail["click #go"] = errors.New("could not find node with given id")
	drv.fail["click #other"] = errors.New("element not interactable")
	p := NewPage("sting", drv, NewRing(3), testOpts.Timeouts)

	err := p.Click(context.Background(), "#go")
	require.Error(t, err)
	var te *resilience.TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "click #go", te.Op)

	err = p.Click(context.Background(), "#other")
	require.Error(t, err)
	assert.False(t, resilience.IsVolatile(err))
}

func TestPage_ProbeAndClickIfPresent(t *testing.T) {
	drv := newFakeDriver()
	drv.visible["#popup"] = true
	p := NewPage("phoenix", drv, NewRing(3), testOpts.Timeouts)

	assert.True(t, p.Probe(context.Background(), "#popup"))
	assert.False(t, p.Probe(context.Background(), "#missing"))
	assert.True(t, p.ClickIfPresent(context.Background(), "#popup"))
	assert.False(t, p.ClickIfPresent(context.Background(), "#missing"))
	assert.True(t, drv.called("click #popup"))
	assert.False(t, drv.called("click #missing"))
}

func TestNewPage_DefaultTimeouts(t *testing.T) {
	p := NewPage("x", newFakeDriver(), NewRing(1), Timeouts{})
	assert.Equal(t, DefaultTimeouts, p.timeouts)
}
