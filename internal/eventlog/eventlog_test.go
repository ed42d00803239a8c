package eventlog

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	l, err := Open(path, FormatCSV, 16)
	require.NoError(t, err)
	_, err = uuid.Parse(l.RunID())
	require.NoError(t, err)

	l.Log(1_000, "5000001234", 12.5, 4.25)
	l.Log(2_000, "5000002234", 12.75, 4.5)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	// повторное открытие дописывает без второго заголовка
	l2, err := Open(path, FormatCSV, 16)
	require.NoError(t, err)
	l2.Log(3_000, "x", 0, 0)
	require.NoError(t, l2.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, []string{l.RunID(), "1", "1000", "5000001234", "12.5", "4.25"}, rows[1])
	assert.Equal(t, "2", rows[2][1])
	assert.Equal(t, l2.RunID(), rows[3][0])
	assert.NotEqual(t, l.RunID(), l2.RunID())
}

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestCBOR(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(nopCloser{&buf}, FormatCBOR, 16)
	require.NoError(t, err)
	l.Log(1_000, "a", 1.5, -2)
	l.Log(2_000, "b", 3, 4)
	require.NoError(t, l.Close())

	recs, err := ReadCBOR(&buf)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, Record{RunID: l.RunID(), Seq: 1, MonotonicNs: 1_000, Reference: "a", Pressure: 1.5, Temperature: -2}, recs[0])
	assert.Equal(t, "b", recs[1].Reference)
}

// blockingWriter не даёт писателю продвинуться, пока не закрыт release
type blockingWriter struct {
	release chan struct{}
	buf     bytes.Buffer
}

func (b *blockingWriter) Write(p []byte) (int, error) {
	<-b.release
	return b.buf.Write(p)
}

func (b *blockingWriter) Close() error { return nil }

func TestLog_NeverBlocks(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	l, err := New(w, FormatCBOR, 2)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		l.Log(int64(i), "r", 0, 0)
	}
	// писатель держит максимум одну запись, в очереди две
	assert.GreaterOrEqual(t, l.Dropped(), uint64(97))

	close(w.release)
	require.NoError(t, l.Close())
	l.Log(1, "late", 0, 0)
	assert.GreaterOrEqual(t, l.Dropped(), uint64(98))
}

func TestUnknownFormat(t *testing.T) {
	_, err := New(nopCloser{&bytes.Buffer{}}, "json", 1)
	assert.Error(t, err)
}
