package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/bidi-pilot/api/schemas"
)

func png(tag string) schemas.Image {
	return schemas.NewPNGImage([]byte(tag))
}

func TestChat_PushRecordsHistory(t *testing.T) {
	completer := new(MockCompleter)
	obs := &recordingObserver{}
	chat := NewChat(completer, WithIntroduction("You are a tester."), WithObserver(obs), WithLogger(setupTestLogger(t)))

	completer.On("Complete", mock.Anything, []Entry{
		{Role: RoleSystem, Message: schemas.ChatMessage{Text: "You are a tester."}},
		{Role: RoleUser, Message: schemas.ChatMessage{Text: "Hello"}},
	}).Return("Hi", nil).Once()

	answer, err := chat.Push(context.Background(), schemas.ChatMessage{Text: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hi", answer)
	completer.AssertExpectations(t)

	assert.Equal(t, []Entry{
		{Role: RoleSystem, Message: schemas.ChatMessage{Text: "You are a tester."}},
		{Role: RoleUser, Message: schemas.ChatMessage{Text: "Hello"}},
		{Role: RoleAssistant, Message: schemas.ChatMessage{Text: "Hi"}},
	}, chat.History())
	assert.Equal(t, []string{"start", "question:Hello", "answer:Hi", "conversation:Hello=Hi"}, obs.events)
}

func TestChat_FailedPushLeavesHistoryUntouched(t *testing.T) {
	completer := new(MockCompleter)
	chat := NewChat(completer)
	completer.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("timeout")).Once()

	_, err := chat.Push(context.Background(), schemas.ChatMessage{Text: "Hello"})
	assert.EqualError(t, err, "timeout")
	assert.Empty(t, chat.History())
}

func TestChat_RejectsInvalidImage(t *testing.T) {
	completer := new(MockCompleter)
	chat := NewChat(completer)

	_, err := chat.Push(context.Background(), schemas.ChatMessage{Text: "look", Images: []schemas.Image{{Format: "gif", Data: "R0lG"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image format must be one of")
	completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestChat_ImageRetention(t *testing.T) {
	completer := new(MockCompleter)
	chat := NewChat(completer, WithImageRetention(2))

	var sent [][]Entry
	completer.On("Complete", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = append(sent, args.Get(1).([]Entry))
	}).Return("ok", nil)

	for _, tag := range []string{"a", "b", "c"} {
		_, err := chat.Push(context.Background(), schemas.ChatMessage{Text: tag, Images: []schemas.Image{png(tag)}})
		require.NoError(t, err)
	}

	require.Len(t, sent, 3)
	last := sent[2]
	require.Len(t, last, 5)
	// History entries older than the last two lose their images; text is kept.
	assert.Equal(t, schemas.ChatMessage{Text: "a"}, last[0].Message)
	assert.Equal(t, RoleAssistant, last[1].Role)
	assert.Equal(t, []schemas.Image{png("b")}, last[2].Message.Images)
	assert.Equal(t, []schemas.Image{png("c")}, last[4].Message.Images)

	// The stored history is never compacted.
	assert.Equal(t, []schemas.Image{png("a")}, chat.History()[0].Message.Images)
}

func TestChat_PopAndClear(t *testing.T) {
	completer := new(MockCompleter)
	obs := &recordingObserver{}
	chat := NewChat(completer, WithIntroduction("intro"), WithObserver(obs))
	completer.On("Complete", mock.Anything, mock.Anything).Return("answer", nil)

	_, ok := chat.Pop()
	assert.False(t, ok, "nothing to pop before the first exchange")

	_, err := chat.Push(context.Background(), schemas.ChatMessage{Text: "question"})
	require.NoError(t, err)

	q, ok := chat.Pop()
	require.True(t, ok)
	assert.Equal(t, "question", q.Text)
	assert.Len(t, chat.History(), 1)

	_, err = chat.Push(context.Background(), schemas.ChatMessage{Text: "again"})
	require.NoError(t, err)
	chat.Clear(context.Background())
	assert.Equal(t, []Entry{{Role: RoleSystem, Message: schemas.ChatMessage{Text: "intro"}}}, chat.History())
	assert.Equal(t, "start", obs.events[len(obs.events)-1])
}

func TestChat_RateLimitHonorsContext(t *testing.T) {
	completer := new(MockCompleter)
	chat := NewChat(completer, WithRequestsPerMinute(1))
	completer.On("Complete", mock.Anything, mock.Anything).Return("ok", nil).Once()

	_, err := chat.Push(context.Background(), schemas.ChatMessage{Text: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = chat.Push(ctx, schemas.ChatMessage{Text: "second"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waiting for request slot")
	completer.AssertExpectations(t)
}
