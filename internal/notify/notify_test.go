package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureSender struct {
	keys   []string
	values [][]byte
	err    error
}

func (s *captureSender) Send(_ context.Context, key string, value []byte) error {
	if s.err != nil {
		return s.err
	}
	s.keys = append(s.keys, key)
	s.values = append(s.values, value)
	return nil
}

func TestKafkaDispatcher_KeysByUser(t *testing.T) {
	sender := &captureSender{}
	d := NewKafkaDispatcher(sender)

	err := d.Notify(context.Background(), Notification{
		UserID:      42,
		CommunityID: 7,
		Type:        TypePostApproved,
		Title:       "Post Approved",
	})
	require.NoError(t, err)
	require.Len(t, sender.keys, 1)
	assert.Equal(t, "42", sender.keys[0])

	var got Notification
	require.NoError(t, json.Unmarshal(sender.values[0], &got))
	assert.Equal(t, uint64(7), got.CommunityID)
	assert.Equal(t, TypePostApproved, got.Type)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &captureSender{}
	broken := &captureSender{err: errors.New("broker down")}
	m := Multi{NewKafkaDispatcher(broken), NewKafkaDispatcher(ok), NewLogDispatcher(zap.NewNop())}

	err := m.Notify(context.Background(), Notification{UserID: 1, Type: TypeJoinAccepted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, ok.keys, 1, "healthy dispatchers still receive the notification")
}
