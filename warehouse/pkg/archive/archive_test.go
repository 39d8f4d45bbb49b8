package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	citylaketesting "github.com/malbeclabs/citylake/utils/pkg/testing"
)

type fakeS3 struct {
	mu   sync.Mutex
	puts []*s3.PutObjectInput
	body [][]byte
	err  error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, in)
	f.body = append(f.body, b)
	return &s3.PutObjectOutput{}, nil
}

func decode(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	var out []map[string]any
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestCityLake_Archive_Key(t *testing.T) {
	t.Parallel()

	b := Batch{Stream: "311", Day: time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC), RunID: "r1"}
	require.Equal(t, "raw/311/2024-06-01/r1.ndjson.gz", Key("raw", b))
	require.Equal(t, "311/2024-06-01/r1.ndjson.gz", Key("", b))
}

func TestCityLake_Archive_S3ArchiverWritesNDJSON(t *testing.T) {
	t.Parallel()

	client := &fakeS3{}
	a, err := NewS3Archiver(S3Config{Logger: citylaketesting.NewLogger(), Client: client, Bucket: "citylake"})
	require.NoError(t, err)

	b := Batch{
		Stream: "parking",
		Day:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		RunID:  "run-1",
		Records: []map[string]any{
			{"summons_number": "1", "plate_id": "ABC123"},
			{"summons_number": "2", "plate_id": "XYZ789"},
		},
	}
	require.NoError(t, a.Archive(context.Background(), b))

	require.Len(t, client.puts, 1)
	require.Equal(t, "citylake", aws.ToString(client.puts[0].Bucket))
	require.Equal(t, "raw/parking/2024-06-01/run-1.ndjson.gz", aws.ToString(client.puts[0].Key))
	require.Equal(t, "run-1", client.puts[0].Metadata["run-id"])

	got := decode(t, client.body[0])
	require.Len(t, got, 2)
	require.Equal(t, "XYZ789", got[1]["plate_id"])
}

func TestCityLake_Archive_SkipsEmptyBatches(t *testing.T) {
	t.Parallel()

	client := &fakeS3{}
	a, err := NewS3Archiver(S3Config{Logger: citylaketesting.NewLogger(), Client: client, Bucket: "citylake"})
	require.NoError(t, err)
	require.NoError(t, a.Archive(context.Background(), Batch{Stream: "311", RunID: "r"}))
	require.Empty(t, client.puts)
}

func TestCityLake_Archive_PutFailureIsReturned(t *testing.T) {
	t.Parallel()

	boom := errors.New("access denied")
	a, err := NewS3Archiver(S3Config{Logger: citylaketesting.NewLogger(), Client: &fakeS3{err: boom}, Bucket: "citylake"})
	require.NoError(t, err)
	err = a.Archive(context.Background(), Batch{Stream: "311", RunID: "r", Records: []map[string]any{{"a": "1"}}})
	require.ErrorIs(t, err, boom)
}

func TestCityLake_Archive_ConfigValidate(t *testing.T) {
	t.Parallel()

	_, err := NewS3Archiver(S3Config{Client: &fakeS3{}, Bucket: "b"})
	require.Error(t, err)
	_, err = NewS3Archiver(S3Config{Logger: citylaketesting.NewLogger(), Bucket: "b"})
	require.Error(t, err)
	_, err = NewS3Archiver(S3Config{Logger: citylaketesting.NewLogger(), Client: &fakeS3{}})
	require.Error(t, err)
}
