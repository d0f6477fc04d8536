package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_WriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileSinkConfig{Dir: dir})
	require.NoError(t, err)
	defer sink.Close()

	logger, err := NewLogger(Config{BufferSize: 2}, WithSink(sink))
	require.NoError(t, err)

	logger.LogAuthEvent("auth.login", "u1", "alice", true, nil)
	logger.LogAuthEvent("auth.logout", "u1", "alice", true, nil)

	got, err := sink.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "auth.login", got[0].Name)
	assert.Equal(t, "alice", got[0].Username)
}

func TestFileSink_RotatesBySize(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileSinkConfig{Dir: dir, MaxSize: 200, MaxFiles: 2})
	require.NoError(t, err)
	defer sink.Close()

	for i := 0; i < 20; i++ {
		ev := &Event{ID: "x", Name: "auth.login", Details: map[string]interface{}{"n": i}}
		require.NoError(t, sink.Write([]*Event{ev}))
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, rotated)
	assert.LessOrEqual(t, len(rotated), 2, "pruning keeps at most MaxFiles rotated files")
}

func TestFileSink_ReopensAfterClose(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileSinkConfig{Dir: dir})
	require.NoError(t, err)

	require.NoError(t, sink.Write([]*Event{{ID: "1", Name: "a"}}))
	require.NoError(t, sink.Close())

	// Writing after close reopens the file in append mode.
	require.NoError(t, sink.Write([]*Event{{ID: "2", Name: "b"}}))

	got, err := sink.ReadAll()
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
