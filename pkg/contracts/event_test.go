package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventIDOrdering(t *testing.T) {
	a := NewEventID(1)
	b := NewEventID(2)
	c := NewEventID(10)

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.True(t, a.Less(c))
	assert.False(t, c.Less(a))
	assert.True(t, ZeroEventID.Less(a))
}

func TestEventIDSeqRoundTrip(t *testing.T) {
	id := NewEventID(42)
	seq, err := id.Seq()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)

	seq, err = ZeroEventID.Seq()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq)
}

func TestValidatePayloadChatMessage(t *testing.T) {
	evt, err := NewEvent(KindChatMessage, "g1", "", "user", ChatMessage{
		Text:   "ship it",
		Format: FormatPlain,
		To:     []string{ToForeman},
	})
	require.NoError(t, err)
	assert.NoError(t, ValidatePayload(KindChatMessage, evt.Data))
}

func TestValidatePayloadChatMessageRejectsEmpty(t *testing.T) {
	evt, err := NewEvent(KindChatMessage, "g1", "", "user", ChatMessage{})
	require.NoError(t, err)
	err = ValidatePayload(KindChatMessage, evt.Data)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestValidatePayloadUnknownKindForwardCompatible(t *testing.T) {
	assert.NoError(t, ValidatePayload(Kind("future.kind"), []byte(`{"anything":true}`)))
	assert.Error(t, ValidatePayload(Kind("future.kind"), []byte(`not json`)))
}

func TestIsKnown(t *testing.T) {
	assert.True(t, IsKnown(KindChatMessage))
	assert.False(t, IsKnown(Kind("bogus")))
}
