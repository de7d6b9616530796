package engine

import (
	"context"
	"errors"
	"testing"

	"agri-assist-go/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestTransitionsDoNotMutateInput(t *testing.T) {
	before := State{
		Conversations: []model.Conversation{{ID: "1", Title: model.DefaultConversationTitle}, {ID: "2", Title: "B"}},
		Messages:      []model.Message{{ID: "a", Content: "x"}},
	}
	saved := before.clone()

	_ = recordConversation("1", "hello", model.Now())(before)
	_ = renameConversation("2", "renamed")(before)
	_ = confirmPlaceholder("2", "3")(before)
	_ = appendMessage(model.Message{ID: "b"})(before)
	_ = removeConversation("1")(before)

	assert.Equal(t, saved, before)
}

func TestConfirmPlaceholderKeepsIDsUnique(t *testing.T) {
	st := State{
		Conversations:       []model.Conversation{{ID: "tmp-1"}, {ID: "5"}},
		CurrentConversation: "tmp-1",
	}

	next := confirmPlaceholder("tmp-1", "5")(st)
	assert.Equal(t, []model.Conversation{{ID: "5"}}, next.Conversations)
	assert.Equal(t, model.ID("5"), next.CurrentConversation)
}

func TestConfirmPlaceholderLeavesMovedPointer(t *testing.T) {
	st := State{
		Conversations:       []model.Conversation{{ID: "tmp-1"}, {ID: "5"}},
		CurrentConversation: "5",
	}

	next := confirmPlaceholder("tmp-1", "9")(st)
	assert.Equal(t, model.ID("9"), next.Conversations[0].ID)
	assert.Equal(t, model.ID("5"), next.CurrentConversation)
}

func TestSetMessagesKeepsPendingMessages(t *testing.T) {
	st := State{Messages: []model.Message{{ID: "tmp-3", Content: "sending"}, {ID: "old", Content: "gone"}}}

	next := setMessages([]model.Message{{ID: "m", Content: "loaded"}})(st)
	assert.Equal(t, []model.Message{{ID: "m", Content: "loaded"}, {ID: "tmp-3", Content: "sending"}}, next.Messages)
}

func TestDiscardPlaceholder(t *testing.T) {
	st := State{
		Conversations:       []model.Conversation{{ID: "tmp-1"}, {ID: "5"}},
		CurrentConversation: "5",
	}

	next := discardPlaceholder("tmp-1")(st)
	assert.Equal(t, []model.Conversation{{ID: "5"}}, next.Conversations)
	assert.Equal(t, model.ID("5"), next.CurrentConversation)
}

func TestRunOptimistic(t *testing.T) {
	var steps []string
	op := func(fail bool) optimistic[int] {
		return optimistic[int]{
			apply: func() { steps = append(steps, "apply") },
			call: func(ctx context.Context) (int, error) {
				steps = append(steps, "call")
				if fail {
					return 0, errors.New("boom")
				}
				return 7, nil
			},
			commit:   func(v int) { steps = append(steps, "commit") },
			rollback: func(err error) { steps = append(steps, "rollback") },
		}
	}

	v, err := runOptimistic(context.Background(), op(false))
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, []string{"apply", "call", "commit"}, steps)

	steps = nil
	v, err = runOptimistic(context.Background(), op(true))
	assert.EqualError(t, err, "boom")
	assert.Zero(t, v)
	assert.Equal(t, []string{"apply", "call", "rollback"}, steps)
}
