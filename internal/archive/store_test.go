package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/proposal-wizard/internal/clientinfo"
	"github.com/wolfman30/proposal-wizard/internal/wizard"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte // key -> body
	getErr   error
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{
		bucket: *input.Bucket,
		key:    *input.Key,
		body:   body,
	})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func testSubmission(sent time.Time) wizard.Submission {
	return wizard.Submission{
		SessionID: "sess-123",
		State: wizard.State{
			CurrentStep:      wizard.StepCompletion,
			SelectedLocation: wizard.LocationCafe,
			LocationDetail:   map[wizard.LocationTag]string{wizard.LocationCafe: "Highlands"},
			PersonalInfo:     &wizard.PersonalInfo{Name: "Minh Anh", Phone: "0912345678", Email: "an@example.com", Address: "12 Le Loi"},
			SelectedFoods:    []wizard.Tag{wizard.Predefined("pho")},
			DateOptions:      []wizard.DateOption{{Date: "2026-02-20", Time: "19:00"}},
			SubmissionStatus: wizard.StatusSent,
			UserID:           "user_1",
		},
		Meta:    clientinfo.Metadata{IP: "203.0.113.9", Device: clientinfo.Device{Kind: "Mobile"}},
		Message: "Tên: Minh Anh\nSĐT: 0912345678\nEmail: an@example.com",
		SentAt:  sent,
	}
}

func TestStore_Archive(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)
	now := time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	err := store.Archive(context.Background(), testSubmission(now))
	require.NoError(t, err)

	// record + manifest
	require.Len(t, mock.putCalls, 2)
	assert.Equal(t, "test-bucket", mock.putCalls[0].bucket)
	assert.Equal(t, "submissions/v1/by-date/2026/02/12/sess-123-1770908400000.json", mock.putCalls[0].key)

	var decoded SubmissionRecord
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &decoded))
	assert.Equal(t, "sess-123", decoded.SessionID)
	assert.Equal(t, "cafe", decoded.Location)
	assert.Equal(t, "Highlands", decoded.Detail)
	assert.Equal(t, HashPhone("0912345678"), decoded.PhoneHash)
	assert.Equal(t, []wizard.Tag{wizard.Predefined("pho")}, decoded.Foods)
	assert.NotContains(t, decoded.Message, "0912345678")
	assert.NotContains(t, decoded.Message, "an@example.com")
	assert.NotContains(t, string(mock.putCalls[0].body), "203.0.113.9")

	assert.Equal(t, "submissions/v1/manifests/2026-02.jsonl", mock.putCalls[1].key)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(mock.putCalls[1].body), &entry))
	assert.Equal(t, "sess-123", entry.SessionID)
	assert.Equal(t, 1, entry.DateOptions)
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())

	err := store.Archive(context.Background(), wizard.Submission{})
	assert.NoError(t, err) // no-op, no error
}

func TestStore_ManifestAppend(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)

	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{SessionID: "s-1"}))
	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{SessionID: "s-2"}))

	// The second append should contain both entries
	lastPut := mock.putCalls[len(mock.putCalls)-1]
	lines := bytes.Split(bytes.TrimSpace(lastPut.body), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestStore_ManifestReadFailure(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("AccessDenied")
	store := NewStore(mock, "test-bucket", nil)

	err := store.AppendManifest(context.Background(), ManifestEntry{SessionID: "s-1"})
	require.Error(t, err)
	assert.Empty(t, mock.putCalls, "manifest must not be overwritten when it cannot be read")

	// the record itself still lands
	require.NoError(t, store.Archive(context.Background(), testSubmission(time.Now())))
	assert.Len(t, mock.putCalls, 1)
}
