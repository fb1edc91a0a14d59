package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/transport/memory"
)

func TestServiceEmitBroadcastsToNamespace(t *testing.T) {
	svc, srv := newTestService(t, nil, ServiceDependencies{})

	inChat, err := srv.Connect(context.Background(), "chat", memory.Dial{})
	require.NoError(t, err)
	inRoot, err := srv.Connect(context.Background(), "/", memory.Dial{})
	require.NoError(t, err)

	require.NoError(t, svc.Emit("chat", "notice", "maintenance"))
	require.NoError(t, svc.Emit("", "hello", 1))

	msg := nextMessage(t, inChat)
	assert.Equal(t, memory.Message{Event: "notice", Data: "maintenance"}, msg)
	assert.Len(t, inChat.Received(), 1)

	msg = nextMessage(t, inRoot)
	assert.Equal(t, "hello", msg.Event)
	assert.Len(t, inRoot.Received(), 1)
}

func TestServiceEmitToRoom(t *testing.T) {
	svc, srv := newTestService(t, nil, ServiceDependencies{})

	member, err := srv.Connect(context.Background(), "/chat", memory.Dial{})
	require.NoError(t, err)
	outsider, err := srv.Connect(context.Background(), "/chat", memory.Dial{})
	require.NoError(t, err)
	require.NoError(t, member.Conn().Join("lobby"))

	require.NoError(t, svc.EmitTo("/chat", "lobby", "message", "hi"))

	msg := nextMessage(t, member)
	assert.Equal(t, "message", msg.Event)
	assert.Empty(t, outsider.Received())
}

func TestServiceEmitProto(t *testing.T) {
	svc, srv := newTestService(t, nil, ServiceDependencies{})
	client, err := srv.Connect(context.Background(), "/", memory.Dial{})
	require.NoError(t, err)

	payload, err := structpb.NewStruct(map[string]any{"text": "hello", "count": 2})
	require.NoError(t, err)
	require.NoError(t, svc.EmitProto("", "update", payload))

	msg := nextMessage(t, client)
	data, ok := msg.Data.(map[string]any)
	require.True(t, ok, "got %T", msg.Data)
	assert.Equal(t, "hello", data["text"])
	assert.EqualValues(t, 2, data["count"])
}

func TestProtoPayloadRequiresMessage(t *testing.T) {
	_, err := ProtoPayload(nil)
	assert.Error(t, err)
}

func TestServiceEmitRequiresTransport(t *testing.T) {
	var svc *Service
	assert.ErrorIs(t, svc.Emit("", "x", nil), errspkg.ErrServiceRequired)
	assert.ErrorIs(t, (&Service{}).EmitTo("", "room", "x", nil), errspkg.ErrTransportRequired)
}
