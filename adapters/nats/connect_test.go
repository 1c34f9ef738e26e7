package nats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNats_Connect(t *testing.T) {
	connect := ReuseConnection(NewTestContainer(t))

	nc1, disconnect1, err := connect()
	require.NoError(t, err)
	require.NotNil(t, nc1)
	require.Equal(t, "CONNECTED", nc1.Status().String())

	nc2, disconnect2, err := connect()
	require.NoError(t, err)
	require.Same(t, nc1, nc2, "connection is shared")

	disconnect1()
	disconnect1()
	require.Equal(t, "CONNECTED", nc2.Status().String(), "released twice counts once")

	disconnect2()
	require.Eventually(t, func() bool { return nc1.IsClosed() }, 5*time.Second, 10*time.Millisecond)

	nc3, disconnect3, err := connect()
	require.NoError(t, err)
	require.NotSame(t, nc1, nc3)
	require.Equal(t, "CONNECTED", nc3.Status().String())
	disconnect3()
}
