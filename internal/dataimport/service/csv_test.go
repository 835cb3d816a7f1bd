package service

import (
	"errors"
	"io"
	"strings"
	"testing"

	importdomain "github.com/smallbiznis/tokenlens/internal/dataimport/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }

func readAll(t *testing.T, r *rowReader) []row {
	t.Helper()
	var rows []row
	for {
		rec, err := r.next()
		if errors.Is(err, io.EOF) {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, rec)
	}
}

func TestRowReaderStripsBOMAndBlankLines(t *testing.T) {
	input := "\xEF\xBB\xBFUser_ID, Region\n u-1 , EU \n\n,\nu-2\n"
	reader, err := newRowReader(strings.NewReader(input))
	require.NoError(t, err)

	rows := readAll(t, reader)
	require.Len(t, rows, 2)
	assert.Equal(t, "u-1", rows[0].get("User_ID"))
	assert.Equal(t, "EU", rows[0].get("Region"))
	assert.Equal(t, "", rows[1].get("Region"))
	assert.Equal(t, "", rows[1].get("Department"))
}

func TestRowReaderEmptyInput(t *testing.T) {
	reader, err := newRowReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, readAll(t, reader))
}

func TestRowReaderMissingSource(t *testing.T) {
	_, err := newRowReader(nil)
	assert.ErrorIs(t, err, importdomain.ErrMissingSource)
}

func TestRowReaderReadFailureIsMalformed(t *testing.T) {
	_, err := newRowReader(failingReader{})
	assert.ErrorIs(t, err, importdomain.ErrMalformedSource)
}
