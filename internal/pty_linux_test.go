//go:build linux

package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func openSlave(t *testing.T) (master, slave int) {
	master, path, err := OpenPty()
	require.NoError(t, err)

	slave, err = unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	return master, slave
}

func TestPtyRawMode(t *testing.T) {
	master, slave := openSlave(t)
	defer unix.Close(master)
	defer unix.Close(slave)

	tio, err := GetTermios(slave)
	require.NoError(t, err)
	MakeRaw(tio)
	require.NoError(t, SetTermios(slave, tio))

	_, err = unix.Write(master, []byte("abc"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return CheckEvents(slave, PollIn)&PollIn != 0
	}, time.Second, 10*time.Millisecond)

	n, err := InQueue(slave)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	b := make([]byte, 8)
	n, err = unix.Read(slave, b)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b[:n]))
}

func TestTcflushInput(t *testing.T) {
	master, slave := openSlave(t)
	defer unix.Close(master)
	defer unix.Close(slave)

	tio, err := GetTermios(slave)
	require.NoError(t, err)
	MakeRaw(tio)
	require.NoError(t, SetTermios(slave, tio))

	_, err = unix.Write(master, []byte("abc"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return CheckEvents(slave, PollIn)&PollIn != 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, Tcflush(slave, TCIFLUSH))
	assert.Zero(t, CheckEvents(slave, PollIn)&PollIn)
}
