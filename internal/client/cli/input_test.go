package cli

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pashudhan/fieldsync/internal/client/models"
)

func rdr(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestGetSimpleText(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("hello world\n"), "Name?", &out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
	assert.Equal(t, "Name?\n> ", out.String())
}

func TestGetSimpleTextEOF(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("lastline"), "Name?", &out)
	require.NoError(t, err)
	assert.Equal(t, "lastline", got)

	_, err = GetSimpleText(rdr(""), "Name?", &out)
	require.Error(t, err)
}

func TestGetOptionalText(t *testing.T) {
	var out bytes.Buffer
	got, err := GetOptionalText(rdr("\n"), "Breed", "Gir", &out)
	require.NoError(t, err)
	assert.Equal(t, "Gir", got)
	assert.Contains(t, out.String(), "Breed [Gir]")

	got, err = GetOptionalText(rdr("Sahiwal\n"), "Breed", "Gir", &out)
	require.NoError(t, err)
	assert.Equal(t, "Sahiwal", got)

	got, err = GetOptionalText(rdr(""), "Breed", "Gir", &out)
	require.NoError(t, err)
	assert.Equal(t, "Gir", got)
}

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation(" 21.5, 79.25 ")
	require.NoError(t, err)
	assert.Equal(t, &models.Location{Latitude: 21.5, Longitude: 79.25}, loc)

	loc, err = ParseLocation("")
	require.NoError(t, err)
	assert.Nil(t, loc)

	_, err = ParseLocation("21.5")
	require.Error(t, err)
	_, err = ParseLocation("north,79")
	require.Error(t, err)
}

func TestParseDays(t *testing.T) {
	n, err := parseDays(nil, 30)
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	n, err = parseDays([]string{"7"}, 30)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = parseDays([]string{"-1"}, 30)
	require.Error(t, err)
}
