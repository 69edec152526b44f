package nostr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	nip19Hex  = "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e"
	nip19Npub = "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg"
)

func TestEncodePubkey(t *testing.T) {
	npub, err := EncodePubkey(nip19Hex)
	require.NoError(t, err)
	assert.Equal(t, nip19Npub, npub)

	_, err = EncodePubkey("abcd")
	assert.Error(t, err)
}

func TestResolvePubkey(t *testing.T) {
	got, err := ResolvePubkey(nip19Npub)
	require.NoError(t, err)
	assert.Equal(t, nip19Hex, got)

	got, err = ResolvePubkey(strings.ToUpper(nip19Hex))
	require.NoError(t, err)
	assert.Equal(t, nip19Hex, got)

	got, err = ResolvePubkey(strings.ToUpper(nip19Npub))
	require.NoError(t, err)
	assert.Equal(t, nip19Hex, got)

	for _, bad := range []string{
		"",
		"alice",
		nip19Npub[:len(nip19Npub)-1] + "q", // checksum
		"Npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg", // mixed case
	} {
		_, err := ResolvePubkey(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolveEventIDRoundTrip(t *testing.T) {
	note, err := EncodeEventID(nip19Hex)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(note, "note1"))

	got, err := ResolveEventID(note)
	require.NoError(t, err)
	assert.Equal(t, nip19Hex, got)

	// an npub is not an event id
	_, err = ResolveEventID(nip19Npub)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}
