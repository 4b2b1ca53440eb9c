package distributor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pharma-cart/internal/config"
	"github.com/sells-group/pharma-cart/internal/model"
)

func testDistributors() config.DistributorsConfig {
	var cfg config.DistributorsConfig
	cfg.Sting.BaseURL = "http://sting.test"
	cfg.Sting.Priority = 10
	cfg.Sting.Users = []config.Credential{{PharmacyID: "p1", Username: "s", Password: "x"}}
	cfg.Phoenix.BaseURL = "https://phoenix.test"
	cfg.Phoenix.Priority = 20
	cfg.Phoenix.UsersJSON = `[{"id":"p1","username":"ph","password":"y"}]`
	return cfg
}

type opener struct {
	drivers []*fakeDriver
	fail    error
}

func (o *opener) open(BrowserOptions) (Driver, error) {
	if o.fail != nil && len(o.drivers) > 0 {
		return nil, o.fail
	}
	d := newFakeDriver()
	o.drivers = append(o.drivers, d)
	return d, nil
}

func TestRegistry_BuildInOrder(t *testing.T) {
	o := &opener{}
	r := NewRegistry(testDistributors(), config.BrowserConfig{ActionTimeoutSecs: 1}, o.open)

	adapters, err := r.Build([]model.DistributorName{model.DistributorPhoenix, model.DistributorSting}, "p1")
	require.NoError(t, err)
	require.Len(t, adapters, 2)
	assert.Equal(t, "phoenix", adapters[0].Name())
	assert.Equal(t, 20, adapters[0].Priority())
	assert.Equal(t, "sting", adapters[1].Name())
	assert.Equal(t, 10, adapters[1].Priority())
	assert.Len(t, o.drivers, 2)
}

func TestRegistry_MissingCredentialsOpensNothing(t *testing.T) {
	o := &opener{}
	r := NewRegistry(testDistributors(), config.BrowserConfig{}, o.open)

	_, err := r.Build([]model.DistributorName{model.DistributorSting, model.DistributorPhoenix}, "unknown-pharmacy")
	require.Error(t, err)
	assert.Equal(t, model.KindConfiguration, model.KindOf(err))
	assert.Equal(t, "sting", model.SourceOf(err))
	assert.Empty(t, o.drivers)
}

func TestRegistry_UnknownDistributor(t *testing.T) {
	o := &opener{}
	r := NewRegistry(testDistributors(), config.BrowserConfig{}, o.open)

	_, err := r.Build([]model.DistributorName{"acme"}, "p1")
	require.Error(t, err)
	assert.Equal(t, model.KindConfiguration, model.KindOf(err))
	assert.Empty(t, o.drivers)
}

func TestRegistry_BadUsersJSON(t *testing.T) {
	cfg := testDistributors()
	cfg.Phoenix.UsersJSON = "{not json"
	r := NewRegistry(cfg, config.BrowserConfig{}, (&opener{}).open)

	_, err := r.Build([]model.DistributorName{model.DistributorPhoenix}, "p1")
	assert.Equal(t, model.KindConfiguration, model.KindOf(err))
}

func TestRegistry_OpenFailureClosesEarlierBrowsers(t *testing.T) {
	o := &opener{fail: errors.New("chrome not found")}
	r := NewRegistry(testDistributors(), config.BrowserConfig{}, o.open)

	_, err := r.Build([]model.DistributorName{model.DistributorSting, model.DistributorPhoenix}, "p1")
	require.Error(t, err)
	assert.Equal(t, model.KindFatal, model.KindOf(err))
	assert.Equal(t, "phoenix", model.SourceOf(err))
	require.Len(t, o.drivers, 1)
	assert.Equal(t, 1, o.drivers[0].closed)
}
