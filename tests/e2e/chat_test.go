package e2e

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/fitcoach/coachchat/internal/auth"
	"github.com/fitcoach/coachchat/internal/chat"
	"github.com/fitcoach/coachchat/store/message"
	"github.com/fitcoach/coachchat/tests/testutil"
)

func bearer(t *testing.T, id auth.Identity) string {
	t.Helper()
	token, err := testutil.Token(id)
	require.NoError(t, err)
	return "Bearer " + token
}

func openConversation(t *testing.T, as auth.Identity, participantID string) string {
	t.Helper()
	body, err := json.Marshal(map[string]string{"participantId": participantID})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, testutil.Addr()+"/api/conversations", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", bearer(t, as))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, resp.StatusCode)

	var out struct {
		ConversationID string `json:"conversationId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.ConversationID
}

func dial(t *testing.T, as auth.Identity) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(testutil.WSURL(), http.Header{"Authorization": []string{bearer(t, as)}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })
	// The server registers the connection right after the handshake.
	time.Sleep(100 * time.Millisecond)
	return ws
}

func receive(t *testing.T, ws *websocket.Conn) message.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame chat.Frame
	require.NoError(t, ws.ReadJSON(&frame))
	require.Equal(t, chat.FrameReceiveMessage, frame.Type)
	var msg message.Message
	require.NoError(t, json.Unmarshal(frame.Payload, &msg))
	return msg
}

func TestConversationRoundTrip(t *testing.T) {
	req := require.New(t)

	// Given both sides resolve the same conversation
	convID := openConversation(t, testutil.Client, testutil.Trainer.UserID)
	req.Equal(convID, openConversation(t, testutil.Trainer, testutil.Client.UserID))

	trainerWS := dial(t, testutil.Trainer)
	clientWS := dial(t, testutil.Client)

	// When the client sends a message
	payload, err := json.Marshal(chat.SendRequest{
		ConversationID: convID,
		SenderID:       testutil.Client.UserID,
		Body:           "Finished the program!",
		Kind:           message.KindText,
	})
	req.NoError(err)
	req.NoError(clientWS.WriteJSON(chat.Frame{Type: chat.FrameSendMessage, Payload: payload}))

	// Then the trainer receives it and the client gets its own echo
	got := receive(t, trainerWS)
	req.Equal("Finished the program!", got.Body)
	req.Equal("e2e_client", got.SenderDisplayName)
	req.Equal(got.ID, receive(t, clientWS).ID)

	// And it shows up in history
	hreq, err := http.NewRequest(http.MethodGet, testutil.Addr()+"/api/conversations/"+convID+"/messages", nil)
	req.NoError(err)
	hreq.Header.Set("Authorization", bearer(t, testutil.Trainer))
	resp, err := http.DefaultClient.Do(hreq)
	req.NoError(err)
	defer func() {
		_ = resp.Body.Close()
	}()
	req.Equal(http.StatusOK, resp.StatusCode)
	var history []message.Message
	req.NoError(json.NewDecoder(resp.Body).Decode(&history))
	req.NotEmpty(history)
	req.Equal(got.ID, history[len(history)-1].ID)
}

func TestCrossTenantConversationRefused(t *testing.T) {
	body := bytes.NewBufferString(`{"participantId":"` + testutil.Outsider.UserID + `"}`)
	req, err := http.NewRequest(http.MethodPost, testutil.Addr()+"/api/conversations", body)
	require.NoError(t, err)
	req.Header.Set("Authorization", bearer(t, testutil.Client))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
