package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_UserID(t *testing.T) {
	conv := NewConversation("")
	assert.Equal(t, AnonymousUser, conv.UserID())

	conv.SetUserID("user-7f3a")
	assert.Equal(t, "user-7f3a", conv.UserID())
}

func TestConversation_KeepsLastTurns(t *testing.T) {
	conv := NewConversation("")
	for i := 0; i < MaxHistory+5; i++ {
		conv.Append(Turn{User: fmt.Sprintf("q%d", i), Buddha: fmt.Sprintf("a%d", i)})
	}

	history := conv.History()
	require.Len(t, history, MaxHistory)
	assert.Equal(t, "q5", history[0].User)
	assert.Equal(t, fmt.Sprintf("q%d", MaxHistory+4), history[MaxHistory-1].User)
}

func TestConversation_HistoryIsCopy(t *testing.T) {
	conv := NewConversation("")
	conv.Append(Turn{User: "hi", Buddha: "hello"})

	history := conv.History()
	history[0].User = "changed"
	assert.Equal(t, "hi", conv.History()[0].User)

	conv.Reset()
	assert.Zero(t, conv.Len())
}

func TestConversation_ConcurrentAppend(t *testing.T) {
	conv := NewConversation("")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv.Append(Turn{User: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, MaxHistory, conv.Len())
}
