package chat

import (
	"io"
	"log/slog"
	"sync"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fanoutCall struct {
	userIDs []string
	payload []byte
}

// recordingBroadcaster captures every fan-out and pretends each user has one connection.
type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []fanoutCall
}

func (b *recordingBroadcaster) FanoutMany(userIDs []string, payload []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, fanoutCall{userIDs: append([]string{}, userIDs...), payload: payload})
	return len(userIDs)
}

func (b *recordingBroadcaster) snapshot() []fanoutCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]fanoutCall{}, b.calls...)
}
