package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "",
		FromEmail: "test@example.com",
	}, nil)

	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != defaultFromName {
		t.Errorf("expected default from name %q, got %q", defaultFromName, sender.fromName)
	}
}

func TestSendGridSender_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "bot@example.com", Host: srv.URL}, logging.Discard())
	require.NoError(t, sender.Send(context.Background(), EmailMessage{To: "owner@example.com", Subject: "Hi", Body: "plain", HTML: "<b>rich</b>"}))
	assert.Equal(t, "Hi", got["subject"])
	assert.Equal(t, []any{"proposal-wizard"}, got["categories"])
}

func TestSendGridSender_SendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sender := NewSendGridSender(SendGridConfig{APIKey: "bad", FromEmail: "bot@example.com", Host: srv.URL}, logging.Discard())
	err := sender.Send(context.Background(), EmailMessage{To: "owner@example.com", Subject: "Hi", Body: "plain"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test Subject",
		Body:    "Test body",
	})

	if err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}

type mockSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (m *mockSES) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	api := &mockSES{}
	sender := NewSESSender(api, SESConfig{FromEmail: "bot@example.com"}, logging.Discard())
	require.NotNil(t, sender)

	require.NoError(t, sender.Send(context.Background(), EmailMessage{To: "owner@example.com", Subject: "Hi", Body: "plain", HTML: "<b>rich</b>"}))

	in := api.input
	require.NotNil(t, in)
	assert.Equal(t, "Proposal Wizard <bot@example.com>", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"owner@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "plain", aws.ToString(in.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<b>rich</b>", aws.ToString(in.Content.Simple.Body.Html.Data))
	require.Len(t, in.EmailTags, 1)
	assert.Equal(t, "proposal-wizard", aws.ToString(in.EmailTags[0].Value))
}

func TestSESSender_SendError(t *testing.T) {
	sender := NewSESSender(&mockSES{err: errors.New("throttled")}, SESConfig{FromEmail: "bot@example.com"}, logging.Discard())
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "owner@example.com", Subject: "Hi", Body: "plain"}))
}

func TestNewSESSender_NilWithoutFromAddress(t *testing.T) {
	assert.Nil(t, NewSESSender(&mockSES{}, SESConfig{}, nil))
}
