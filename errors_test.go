package lcbook

import (
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestErrorKindOfFindsClassifiedSentinel(t *testing.T) {
	require.True(t, ErrorKindOf(ErrTimeout).Has(KindNetwork))
	require.True(t, ErrorKindOf(ErrTimeout).Has(KindTransient))
	require.True(t, ErrorKindOf(ErrTooManyRedirects).Has(KindSrvGen))
}

func TestErrorKindOfWalksWrappedErrors(t *testing.T) {
	wrapped := pkgerrors.Wrap(ErrBootstrapFailed, "dialing seed hosts")
	require.True(t, ErrorKindOf(wrapped).Has(KindNetwork))
	require.True(t, ErrorKindOf(wrapped).Has(KindFatal))
}

func TestErrorKindOfUnclassifiedErrorIsZero(t *testing.T) {
	require.Equal(t, ErrorKind(0), ErrorKindOf(pkgerrors.New("plain")))
}

func TestFindMemdErrorKnownStatuses(t *testing.T) {
	err, ok := findMemdError(StatusKeyNotFound)
	require.True(t, ok)
	require.ErrorIs(t, err, ErrKeyNotFound)

	err, ok = findMemdError(StatusNotMyVBucket)
	require.True(t, ok)
	require.True(t, ErrorKindOf(err).Has(KindSrvGen))
}

func TestFindMemdErrorUnknownStatus(t *testing.T) {
	_, ok := findMemdError(StatusCode(0xfe))
	require.False(t, ok)
}

func TestMultiErrorFlattensNestedMultiErrors(t *testing.T) {
	inner := &MultiError{}
	inner.add(ErrNetwork)
	inner.add(ErrTimeout)

	outer := &MultiError{}
	outer.add(inner.get())
	outer.add(ErrShutdown)

	require.Len(t, outer.Errors, 3)
}

func TestMultiErrorGetCollapsesSingleError(t *testing.T) {
	m := &MultiError{}
	m.add(ErrNetwork)
	require.Equal(t, ErrNetwork, m.get())
}

func TestMultiErrorGetReturnsNilWhenEmpty(t *testing.T) {
	m := &MultiError{}
	require.Nil(t, m.get())
}
