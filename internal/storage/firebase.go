package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

// rtdbNode is the subset of *db.Ref used by FirebaseBackend.
type rtdbNode interface {
	Get(ctx context.Context, v interface{}) error
	Set(ctx context.Context, v interface{}) error
	Delete(ctx context.Context) error
	Transaction(ctx context.Context, fn db.UpdateFn) error
}

// FirebaseBackend stores sessions in the Firebase Realtime Database under
// wizard/<session>/state/<key> and wizard/<session>/interactions.
type FirebaseBackend struct {
	ref func(path string) rtdbNode
}

var _ Backend = (*FirebaseBackend)(nil)

// NewFirebaseBackend connects to the Realtime Database at databaseURL using a
// service account key file.
func NewFirebaseBackend(ctx context.Context, serviceAccountKeyPath, databaseURL string) (*FirebaseBackend, error) {
	config := &firebase.Config{DatabaseURL: databaseURL}
	var opts []option.ClientOption
	if serviceAccountKeyPath != "" {
		opts = append(opts, option.WithCredentialsFile(serviceAccountKeyPath))
	}
	app, err := firebase.NewApp(ctx, config, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: init firebase app: %w", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: init firebase database: %w", err)
	}
	return newFirebaseBackend(func(path string) rtdbNode { return client.NewRef(path) }), nil
}

func newFirebaseBackend(ref func(path string) rtdbNode) *FirebaseBackend {
	return &FirebaseBackend{ref: ref}
}

func firebaseSessionPath(session string) string {
	return "wizard/" + session
}

func (f *FirebaseBackend) Get(ctx context.Context, session, key string) ([]byte, error) {
	var raw json.RawMessage
	if err := f.ref(firebaseSessionPath(session)+"/state/"+key).Get(ctx, &raw); err != nil {
		return nil, fmt.Errorf("storage: firebase get %s: %w", key, err)
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrNotFound
	}
	return raw, nil
}

func (f *FirebaseBackend) Set(ctx context.Context, session, key string, value []byte) error {
	if err := f.ref(firebaseSessionPath(session)+"/state/"+key).Set(ctx, json.RawMessage(value)); err != nil {
		return fmt.Errorf("storage: firebase set %s: %w", key, err)
	}
	return nil
}

func (f *FirebaseBackend) Clear(ctx context.Context, session string) error {
	if err := f.ref(firebaseSessionPath(session)).Delete(ctx); err != nil {
		return fmt.Errorf("storage: firebase clear: %w", err)
	}
	return nil
}

func (f *FirebaseBackend) AppendInteraction(ctx context.Context, session string, entry Interaction) error {
	err := f.ref(firebaseSessionPath(session)+"/interactions").Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var entries []Interaction
		if err := node.Unmarshal(&entries); err != nil {
			return nil, err
		}
		return trimInteractions(append(entries, entry)), nil
	})
	if err != nil {
		return fmt.Errorf("storage: firebase append interaction: %w", err)
	}
	return nil
}

func (f *FirebaseBackend) Interactions(ctx context.Context, session string) ([]Interaction, error) {
	var entries []Interaction
	if err := f.ref(firebaseSessionPath(session)+"/interactions").Get(ctx, &entries); err != nil {
		return nil, fmt.Errorf("storage: firebase interactions: %w", err)
	}
	return entries, nil
}
