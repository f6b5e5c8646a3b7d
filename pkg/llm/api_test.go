package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompletionRequestDefaults(t *testing.T) {
	req := NewCompletionRequest([]CompletionMessage{NewUserMessage("hello")})

	assert.Equal(t, 4096, req.MaxTokens)
	assert.InDelta(t, TemperatureDefault, req.Temperature, 0.001)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, RoleUser, req.Messages[0].Role)
}

func TestMessageConstructors(t *testing.T) {
	sys := NewSystemMessage("instructions")
	assert.Equal(t, RoleSystem, sys.Role)

	usr := NewUserMessage("question")
	assert.Equal(t, RoleUser, usr.Role)
	assert.Empty(t, usr.Images)

	img := NewUserImageMessage("what is shown", "aGVsbG8=")
	assert.Equal(t, RoleUser, img.Role)
	require.Len(t, img.Images, 1)

	asst := NewAssistantMessage("answer")
	assert.Equal(t, RoleAssistant, asst.Role)
}

func TestChainOrdering(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next LLMClient) LLMClient {
			return WrapClient(
				func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
					order = append(order, name)
					return next.Complete(ctx, req)
				},
				next.Stream,
				next.GetModelName,
			)
		}
	}

	base := NewMockClient([]CompletionResponse{{Content: "ok"}}, nil)
	client := Chain(base, mw("outer"), mw("inner"))

	_, err := client.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("x")}))
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestMockClientScriptedResponses(t *testing.T) {
	mock := NewMockClient(
		[]CompletionResponse{{Content: "first"}, {Content: "second"}},
		[]error{nil, nil},
	)

	resp, err := mock.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = mock.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	_, err = mock.Complete(context.Background(), CompletionRequest{})
	assert.Error(t, err)
}

func TestMockClientScriptedErrors(t *testing.T) {
	boom := errors.New("boom")
	mock := NewMockClient([]CompletionResponse{{Content: "after"}}, []error{boom, nil})

	_, err := mock.Complete(context.Background(), CompletionRequest{})
	assert.ErrorIs(t, err, boom)

	resp, err := mock.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "after", resp.Content)
}

func TestMockClientRecordsRequests(t *testing.T) {
	mock := NewMockClient([]CompletionResponse{{Content: "ok"}}, nil)

	req := NewCompletionRequest([]CompletionMessage{NewUserMessage("recorded")})
	_, err := mock.Complete(context.Background(), req)
	require.NoError(t, err)

	got := mock.Requests()
	require.Len(t, got, 1)
	assert.Equal(t, "recorded", got[0].Messages[0].Content)
}
