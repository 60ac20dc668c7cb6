package device_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BrandonDHaskell/biogate/internal/device"
)

func TestErrorKinds(t *testing.T) {
	assert.ErrorIs(t, device.ErrUnauthorized, device.ErrConnectivity)

	cause := errors.New("i/o timeout")
	err := device.Connectivity("read", cause)
	assert.ErrorIs(t, err, device.ErrConnectivity)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, device.ErrDeviceWrite)

	again := device.Connectivity("sync", err)
	assert.ErrorIs(t, again, device.ErrConnectivity)
	assert.Equal(t, "sync: read: device connectivity: i/o timeout", again.Error())

	w := device.Rejected("set user", nil)
	assert.ErrorIs(t, w, device.ErrDeviceWrite)
	assert.NotErrorIs(t, w, device.ErrConnectivity)

	assert.NoError(t, device.Connectivity("noop", nil))
}

func TestAddressString(t *testing.T) {
	a := device.Address{Host: "192.168.1.81", Port: 4370}
	assert.Equal(t, "192.168.1.81:4370", a.String())
}
