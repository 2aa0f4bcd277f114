package inputvalidator

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateReaderCleanFile(t *testing.T) {
	input := "id_,conversion_timestamp,conversion_value,conversion_metadata\n" +
		"YWJj,1609459200,42,0\n" +
		"ZGVm,1609459300,7,1"

	report, err := DefaultRegistry().ValidateReader(context.Background(), "mem", strings.NewReader(input), FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, ComputationAttribution, report.Type)
	assert.Equal(t, 2, report.Rows)
	assert.Equal(t, 2, report.ValidRows)
	assert.True(t, report.Valid())
	assert.NoError(t, report.Err())
}

func TestValidateReaderCollectsIssuesWithoutAborting(t *testing.T) {
	input := "id_,value,event_timestamp\n" +
		"YWJj!,1,1609459200\n" +
		"YWJj,-5,160945920 \n" +
		"YWJj,1\n" +
		"\n" +
		"YWJj,3,1609459200\n"

	report, err := DefaultRegistry().ValidateReader(context.Background(), "mem", strings.NewReader(input), FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, ComputationLift, report.Type)
	assert.False(t, report.Valid())
	assert.Equal(t, 4, report.Rows)
	assert.Equal(t, 1, report.ValidRows)
	assert.Equal(t, 3, report.Counts[InvalidFieldFormat])
	assert.Equal(t, 2, report.Counts[MalformedLineEnding])
	assert.Equal(t, 1, report.Counts[ColumnCountMismatch])
}

func TestValidateReaderMissingHeaderColumn(t *testing.T) {
	input := "id_,conversion_value,conversion_timestamp\nYWJj,1,1609459200\n"
	report, err := DefaultRegistry().ValidateReader(context.Background(), "mem", strings.NewReader(input), FileOptions{Type: ComputationLift})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[MissingRequiredField])
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, FieldEventTime, report.Issues[0].Field)
	assert.Equal(t, 1, report.Issues[0].Line)
}

func TestValidateReaderCapsIssues(t *testing.T) {
	var b strings.Builder
	b.WriteString("id_,value,event_timestamp\n")
	for i := 0; i < 10; i++ {
		b.WriteString("bad!,1,1609459200\n")
	}
	report, err := DefaultRegistry().ValidateReader(context.Background(), "mem", strings.NewReader(b.String()), FileOptions{MaxIssues: 3})
	require.NoError(t, err)
	assert.Len(t, report.Issues, 3)
	assert.True(t, report.Truncated)
	assert.Equal(t, 10, report.TotalIssues())
}

func TestValidateReaderEmptyInput(t *testing.T) {
	report, err := DefaultRegistry().ValidateReader(context.Background(), "mem", strings.NewReader(""), FileOptions{Type: ComputationAttribution})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[EmptyInput])
}

func TestValidateReaderUndetectableHeader(t *testing.T) {
	_, err := DefaultRegistry().ValidateReader(context.Background(), "mem", strings.NewReader("a,b\n1,2\n"), FileOptions{})
	require.Error(t, err)
}

type memOpener struct {
	mu     sync.Mutex
	files  map[string]string
	opened []string
}

func (m *memOpener) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.files[uri]
	if !ok {
		return nil, errors.New("not found")
	}
	m.opened = append(m.opened, uri)
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestValidateFilesKeepsInputOrder(t *testing.T) {
	opener := &memOpener{files: map[string]string{
		"shard-0": "id_,value,event_timestamp\nYWJj,1,1609459200\n",
		"shard-1": "id_,value,event_timestamp\nYWJj!,1,1609459200\n",
		"shard-2": "id_,value,event_timestamp\n",
	}}
	reports, err := DefaultRegistry().ValidateFiles(context.Background(), opener, []string{"shard-0", "shard-1", "shard-2"}, 2, FileOptions{})
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, "shard-0", reports[0].Source)
	assert.True(t, reports[0].Valid())
	assert.False(t, reports[1].Valid())
	assert.Equal(t, 0, reports[2].Rows)
	assert.Len(t, opener.opened, 3)
}

func TestValidateFilesOpenError(t *testing.T) {
	opener := &memOpener{files: map[string]string{}}
	_, err := DefaultRegistry().ValidateFiles(context.Background(), opener, []string{"missing"}, 1, FileOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}
