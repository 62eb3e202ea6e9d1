package rtp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/mediacompositor/pkg/rtp"
)

func TestParseASC_Simple(t *testing.T) {
	asc := []byte{0b00010010, 0b00010000}
	parsed, err := rtp.ParseASC(asc)
	require.NoError(t, err)

	assert.EqualValues(t, 2, parsed.Profile)
	assert.EqualValues(t, 44_100, parsed.Frequency)
	assert.EqualValues(t, 2, parsed.Channel)
	assert.EqualValues(t, 1024, parsed.FrameLength)
}

func TestParseASC_ComplicatedFrequency(t *testing.T) {
	asc := []byte{0b00010111, 0b10000000, 0b00010000, 0b10011011, 0b10010100}
	parsed, err := rtp.ParseASC(asc)
	require.NoError(t, err)

	assert.EqualValues(t, 2, parsed.Profile)
	assert.EqualValues(t, 0x2137, parsed.Frequency)
	assert.EqualValues(t, 2, parsed.Channel)
	assert.EqualValues(t, 960, parsed.FrameLength)
}

func TestParseASC_ComplicatedProfile(t *testing.T) {
	asc := []byte{0b11111001, 0b01000110, 0b00100000}
	parsed, err := rtp.ParseASC(asc)
	require.NoError(t, err)

	assert.EqualValues(t, 42, parsed.Profile)
	assert.EqualValues(t, 48_000, parsed.Frequency)
	assert.EqualValues(t, 1, parsed.Channel)
	assert.EqualValues(t, 1024, parsed.FrameLength)
}

func TestParseASC_ComplicatedProfileAndFrequency(t *testing.T) {
	asc := []byte{
		0b11111001, 0b01011110, 0b00000000, 0b01000010, 0b01101110, 0b01000000,
	}
	parsed, err := rtp.ParseASC(asc)
	require.NoError(t, err)

	assert.EqualValues(t, 42, parsed.Profile)
	assert.EqualValues(t, 0x2137, parsed.Frequency)
	assert.EqualValues(t, 2, parsed.Channel)
	assert.EqualValues(t, 1024, parsed.FrameLength)
}

func TestParseASC_TooShort(t *testing.T) {
	_, err := rtp.ParseASC([]byte{0x01})
	assert.Error(t, err)
}
