package constant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialConfigParse(t *testing.T) {
	c := DefaultSerialConfig("/dev/ttyS1")
	p, err := c.ParseParity()
	require.NoError(t, err)
	assert.Equal(t, NoParity, p)

	c.Parity = "Even"
	p, err = c.ParseParity()
	require.NoError(t, err)
	assert.Equal(t, EvenParity, p)

	c.Parity = "mark"
	_, err = c.ParseParity()
	assert.Error(t, err)

	c.StopBits = "2"
	s, err := c.ParseStopBits()
	require.NoError(t, err)
	assert.Equal(t, TwoStopBits, s)

	c.StopBits = "3"
	_, err = c.ParseStopBits()
	assert.Error(t, err)
}
