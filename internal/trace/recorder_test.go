package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	dir := t.TempDir()
	r, err := NewRecorder(dir+"/traces", dir+"/reports", "123", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return r
}

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestRecorderAppendsInOrder(t *testing.T) {
	r := newTestRecorder(t)

	seq1, err := r.RecordRecv([]byte(`{"type":"recognizeResults","text":"Hello","sessionId":"123"}`))
	require.NoError(t, err)
	seq2, err := r.RecordSent([]byte(`{"type":"startSpeaking","text":"Hello there!","sessionId":"123"}`), seq1)
	require.NoError(t, err)
	require.NoError(t, r.Finalize())

	assert.Less(t, seq1, seq2)

	records := readRecords(t, r.TracePath())
	require.Len(t, records, 2)
	assert.Equal(t, DirectionRecv, records[0].Direction)
	assert.Equal(t, DirectionSent, records[1].Direction)
	assert.Equal(t, records[0].Seq, records[1].Cause, "causal reference resolves to the earlier recv record")
	assert.False(t, records[1].Timestamp.Before(records[0].Timestamp))
}

func TestRecorderReportContents(t *testing.T) {
	r := newTestRecorder(t)

	seq, err := r.RecordRecv([]byte(`{"type":"recognizeResults","text":"Hello","sessionId":"123"}`))
	require.NoError(t, err)
	_, err = r.RecordSent([]byte(`{"type":"startSpeaking","text":"Hello there!","sessionId":"123"}`), seq)
	require.NoError(t, err)
	require.NoError(t, r.Finalize())

	report, err := os.ReadFile(r.ReportPath())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(report)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Datetime: 2025-06-01T12:00:00Z", lines[0])
	assert.Equal(t, "SessionId: 123", lines[1])
	assert.Equal(t, "User: Hello", lines[2])
	assert.Equal(t, "Avatar: Hello there!", lines[3])
}

func TestRecorderInvalidPayloadTracedNotReported(t *testing.T) {
	r := newTestRecorder(t)

	_, err := r.RecordRecv([]byte(`{"type":"recognizeResults","text":123,"sessionId":"123"}`))
	require.NoError(t, err)
	require.NoError(t, r.Finalize())

	records := readRecords(t, r.TracePath())
	assert.Len(t, records, 1, "one trace record")

	report, err := os.ReadFile(r.ReportPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(report)), "\n")
	assert.Len(t, lines, 2, "header only, zero report records")
}

func TestRecorderRecordAfterFinalize(t *testing.T) {
	r := newTestRecorder(t)
	require.NoError(t, r.Finalize())

	_, err := r.RecordRecv([]byte(`{}`))
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestRecorderFinalizeIdempotent(t *testing.T) {
	r := newTestRecorder(t)
	require.NoError(t, r.Finalize())
	require.NoError(t, r.Finalize())
}

func TestRecorderFileNamesKeyedBySessionAndStart(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r, err := NewRecorder(dir, dir, "a/b", start)
	require.NoError(t, err)
	defer r.Finalize()

	assert.Contains(t, r.TracePath(), "a_b_20250601_120000.jsonl")
	assert.Contains(t, r.ReportPath(), "a_b_20250601_120000.rpt")
}
