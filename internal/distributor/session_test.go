package distributor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pharma-cart/internal/model"
	"github.com/sells-group/pharma-cart/internal/resilience"
)

var testOpts = SessionOptions{
	Timeouts:        Timeouts{Action: 50 * time.Millisecond, Probe: 10 * time.Millisecond},
	RefreshAttempts: 2,
}

func readySession(t *testing.T) (*Session, *mockStorefront, *fakeDriver) {
	t.Helper()
	front := &mockStorefront{}
	front.Test(t)
	t.Cleanup(func() { front.AssertExpectations(t) })
	drv := newFakeDriver()

	front.On("Login", mock.Anything, mock.Anything).Return(nil).Once()
	front.On("Prepare", mock.Anything, mock.Anything).Return(nil).Once()

	s := NewSession("sting", 10, front, drv, testOpts)
	require.NoError(t, s.Login(context.Background()))
	require.NoError(t, s.PrepareSession(context.Background()))
	require.Equal(t, StateSessionReady, s.State())
	return s, front, drv
}

func TestSession_OutOfOrderCallsAreFatal(t *testing.T) {
	s := NewSession("sting", 10, &mockStorefront{}, newFakeDriver(), testOpts)

	_, err := s.Search(context.Background(), []string{"aspirin"})
	require.Error(t, err)
	assert.Equal(t, model.KindFatal, model.KindOf(err))
	assert.Equal(t, "sting", model.SourceOf(err))

	err = s.PrepareSession(context.Background())
	assert.Equal(t, model.KindFatal, model.KindOf(err))

	_, err = s.AddToCart(context.Background(), "aspirin", 1)
	assert.Equal(t, model.KindFatal, model.KindOf(err))
}

func TestSession_LoginFailureIsFatal(t *testing.T) {
	front := &mockStorefront{}
	front.On("Login", mock.Anything, mock.Anything).Return(errors.New("bad password")).Once()
	s := NewSession("phoenix", 20, front, newFakeDriver(), testOpts)

	err := s.Login(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.KindFatal, model.KindOf(err))
	assert.Contains(t, err.Error(), "bad password")
	assert.Equal(t, StateUninitialized, s.State())
}

func TestSession_SearchTriesVariantsInOrder(t *testing.T) {
	s, front, _ := readySession(t)

	front.On("Lookup", mock.Anything, mock.Anything, "aspirin 500mg").Return(Match{}, false, nil).Once()
	front.On("Lookup", mock.Anything, mock.Anything, "aspirin").Return(Match{Name: "ASPIRIN 500MG", Price: 4.2}, true, nil).Once()

	res, err := s.Search(context.Background(), []string{"aspirin 500mg", "aspirin", "never tried"})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, model.Offer{Distributor: "sting", Priority: 10, Name: "ASPIRIN 500MG", Price: 4.2}, res.Offer)
	assert.Equal(t, StateSessionReady, s.State())
}

func TestSession_SearchExhaustedIsNotFound(t *testing.T) {
	s, front, _ := readySession(t)
	front.On("Lookup", mock.Anything, mock.Anything, mock.Anything).Return(Match{}, false, nil).Twice()

	res, err := s.Search(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.False(t, res.Offer.Found())
	assert.Equal(t, "sting", res.Offer.Distributor)
}

func TestSession_VolatileSearchRefreshesOnce(t *testing.T) {
	s, front, _ := readySession(t)
	stale := resilience.Volatile("click", errors.New("stale element reference"))

	front.On("Lookup", mock.Anything, mock.Anything, "ibuprofen").Return(Match{}, false, stale).Once()
	front.On("Refresh", mock.Anything, mock.Anything).Return(nil).Once()
	front.On("Lookup", mock.Anything, mock.Anything, "ibuprofen").Return(Match{Name: "IBUPROFEN", Price: 3}, true, nil).Once()

	res, err := s.Search(context.Background(), []string{"ibuprofen"})
	require.NoError(t, err)
	assert.True(t, res.Found())
	assert.InDelta(t, 3.0, res.Offer.Price, 1e-9)
}

func TestSession_VolatileTwiceIsTransient(t *testing.T) {
	s, front, _ := readySession(t)
	stale := resilience.Volatile("click", errors.New("stale element reference"))

	front.On("Lookup", mock.Anything, mock.Anything, "ibuprofen").Return(Match{}, false, stale).Twice()
	front.On("Refresh", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := s.Search(context.Background(), []string{"ibuprofen"})
	require.Error(t, err)
	assert.Equal(t, model.KindTransient, model.KindOf(err))
	assert.Equal(t, "sting", model.SourceOf(err))
	assert.Equal(t, StateSessionReady, s.State())
}

func TestSession_OtherSearchErrorsAreFatal(t *testing.T) {
	s, front, _ := readySession(t)
	front.On("Lookup", mock.Anything, mock.Anything, "x").Return(Match{}, false, errors.New("grid missing")).Once()

	_, err := s.Search(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, model.KindFatal, model.KindOf(err))
}

func TestSession_AddToCartRelocatesAfterVolatileFind(t *testing.T) {
	s, front, _ := readySession(t)
	stale := resilience.Volatile("click", errors.New("node with given id does not belong to the document"))

	front.On("Locate", mock.Anything, mock.Anything, "ASPIRIN").Return(false, stale).Once()
	front.On("Locate", mock.Anything, mock.Anything, "ASPIRIN").Return(true, nil).Once()
	front.On("AddToCart", mock.Anything, mock.Anything, 2).Return(nil).Once()
	front.On("Refresh", mock.Anything, mock.Anything).Return(nil).Twice()

	ok, err := s.AddToCart(context.Background(), "ASPIRIN", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateSessionReady, s.State())
}

func TestSession_AddToCartIsNotRepeated(t *testing.T) {
	s, front, _ := readySession(t)
	stale := resilience.Volatile("click", errors.New("stale element reference"))

	front.On("Locate", mock.Anything, mock.Anything, "ASPIRIN").Return(true, nil).Once()
	front.On("AddToCart", mock.Anything, mock.Anything, 2).Return(stale).Once()
	front.On("Refresh", mock.Anything, mock.Anything).Return(nil).Once()

	ok, err := s.AddToCart(context.Background(), "ASPIRIN", 2)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.KindTransient, model.KindOf(err))
	front.AssertNumberOfCalls(t, "AddToCart", 1)
	assert.Equal(t, StateSessionReady, s.State())
}

func TestSession_AddToCartFailedRefreshKeepsAdded(t *testing.T) {
	s, front, _ := readySession(t)

	front.On("Locate", mock.Anything, mock.Anything, "ASPIRIN").Return(true, nil).Once()
	front.On("AddToCart", mock.Anything, mock.Anything, 1).Return(nil).Once()
	front.On("Refresh", mock.Anything, mock.Anything).Return(errors.New("menu missing")).Times(testOpts.RefreshAttempts)

	ok, err := s.AddToCart(context.Background(), "ASPIRIN", 1)
	require.Error(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.KindFatal, model.KindOf(err))
	front.AssertNumberOfCalls(t, "AddToCart", 1)
}

func TestSession_AddToCartProductGone(t *testing.T) {
	s, front, _ := readySession(t)
	front.On("Locate", mock.Anything, mock.Anything, "ASPIRIN").Return(false, nil).Once()

	ok, err := s.AddToCart(context.Background(), "ASPIRIN", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	front.AssertNotCalled(t, "AddToCart", mock.Anything, mock.Anything, mock.Anything)
}

func TestSession_RefreshRetriesThenFails(t *testing.T) {
	s, front, _ := readySession(t)
	front.On("Refresh", mock.Anything, mock.Anything).Return(errors.New("menu missing")).Times(testOpts.RefreshAttempts)

	err := s.RefreshSession(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.KindFatal, model.KindOf(err))
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s, _, drv := readySession(t)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, drv.closed)
	assert.Equal(t, StateClosed, s.State())

	_, err := s.Screenshot(context.Background())
	assert.Error(t, err)
	_, err = s.Search(context.Background(), []string{"x"})
	assert.Equal(t, model.KindFatal, model.KindOf(err))
}

func TestSession_Screenshot(t *testing.T) {
	s, _, _ := readySession(t)
	img, err := s.Screenshot(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, img)
	assert.Equal(t, 0, s.Diagnostics().Len())
}

func TestResult_ZeroValueIsNotFound(t *testing.T) {
	var r Result
	assert.False(t, r.Found())
	assert.True(t, Hit(model.Offer{Price: 1}).Found())
	assert.False(t, Miss("sting", 10).Found())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "session_ready", StateSessionReady.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
