package events

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage(t *testing.T) {
	evt := NewTournamentChanged(ChangeUpdated, "7")
	require.NotEmpty(t, evt.EventID)

	msg, err := Message(SubjectPrefix, evt)
	require.NoError(t, err)
	assert.Equal(t, "tournaments.events.updated", msg.Subject)
	assert.Equal(t, "7", msg.Header.Get("Tournament-ID"))
	assert.Equal(t, "updated", msg.Header.Get("Event-Type"))

	decoded, err := Decode(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, evt.EventID, decoded.EventID)
	assert.Equal(t, evt.TournamentID, decoded.TournamentID)
	assert.True(t, evt.Timestamp.Equal(decoded.Timestamp))
}

func TestDecode_LegacyIntegerID(t *testing.T) {
	evt, err := Decode([]byte(`{"eventId":"e1","eventType":"deleted","tournamentId":42}`))
	require.NoError(t, err)
	assert.Equal(t, "42", evt.TournamentID.String())
	assert.Equal(t, ChangeDeleted, evt.Type)
}

func TestDispatch_SkipsBadMessages(t *testing.T) {
	var got []TournamentChanged
	handler := func(evt TournamentChanged) { got = append(got, evt) }

	Dispatch(&nats.Msg{Subject: "tournaments.events.created", Data: []byte(`{`)}, handler)
	Dispatch(&nats.Msg{Subject: "tournaments.events.renamed", Data: []byte(`{"eventType":"renamed"}`)}, handler)
	Dispatch(&nats.Msg{Subject: "tournaments.events.created", Data: []byte(`{"eventType":"created","tournamentId":"a"}`)}, handler)

	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].TournamentID.String())
}

func TestNoOpPublisher(t *testing.T) {
	var p Publisher = NoOpPublisher{}
	assert.NoError(t, p.Publish(context.Background(), NewTournamentChanged(ChangeCreated, "x")))
	assert.NoError(t, p.Close())
}
