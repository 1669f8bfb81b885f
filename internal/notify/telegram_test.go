package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

type botRequest struct {
	path   string
	fields map[string]string
}

func fakeBotAPI(t *testing.T, reply string) (*httptest.Server, *[]botRequest) {
	t.Helper()
	var reqs []botRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := botRequest{path: r.URL.Path, fields: map[string]string{}}
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				req.fields[k] = v[0]
			}
		}
		reqs = append(reqs, req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func TestNewTelegramNotifier_RequiresTokenAndChat(t *testing.T) {
	_, err := NewTelegramNotifier(TelegramConfig{Token: "", ChatID: "1"}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewTelegramNotifier(TelegramConfig{Token: "123:abc", ChatID: " "}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestTelegramNotifier_Send(t *testing.T) {
	srv, reqs := fakeBotAPI(t, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
	n, err := NewTelegramNotifier(TelegramConfig{Token: "123:abc", ChatID: "42", ServerURL: srv.URL}, logging.Discard())
	require.NoError(t, err)

	require.NoError(t, n.Send(context.Background(), "<b>xin chào</b>"))

	require.Len(t, *reqs, 1)
	req := (*reqs)[0]
	assert.Equal(t, "/bot123:abc/sendMessage", req.path)
	assert.Equal(t, "42", req.fields["chat_id"])
	assert.Equal(t, "<b>xin chào</b>", req.fields["text"])
	assert.Contains(t, req.fields["parse_mode"], "HTML")
}

func TestTelegramNotifier_SendRejected(t *testing.T) {
	srv, _ := fakeBotAPI(t, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	n, err := NewTelegramNotifier(TelegramConfig{Token: "123:abc", ChatID: "42", ServerURL: srv.URL}, logging.Discard())
	require.NoError(t, err)

	err = n.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "notify: telegram send"), err.Error())
}

func TestTelegramNotifier_Identity(t *testing.T) {
	srv, reqs := fakeBotAPI(t, `{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"Cupid","username":"cupid_bot"}}`)
	n, err := NewTelegramNotifier(TelegramConfig{Token: "123:abc", ChatID: "42", ServerURL: srv.URL}, logging.Discard())
	require.NoError(t, err)

	id, err := n.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BotIdentity{ID: 99, Username: "cupid_bot", FirstName: "Cupid", IsBot: true}, id)
	assert.Equal(t, "/bot123:abc/getMe", (*reqs)[0].path)
}
