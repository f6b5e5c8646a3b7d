package google

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guidance/pkg/llm"
)

func TestEnsureClientConcurrent(t *testing.T) {
	g, ok := NewClient("test-key", "gemini-2.0-flash").(*GeminiClient)
	require.True(t, ok)

	// Concurrent requests from different sessions share one client; every
	// caller must observe the same initialization outcome.
	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = g.ensureClient(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, errs[0], errs[i])
	}
	if errs[0] == nil {
		assert.NotNil(t, g.client)
	}
}

func TestConvertMessagesToGemini(t *testing.T) {
	img := base64.StdEncoding.EncodeToString([]byte("pixels"))
	contents, system, err := convertMessagesToGemini([]llm.CompletionMessage{
		llm.NewSystemMessage("be brief"),
		llm.NewUserImageMessage("what is on screen", img),
		llm.NewAssistantMessage("a dialog"),
	})
	require.NoError(t, err)

	assert.Equal(t, "be brief", system)
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	assert.Equal(t, "image/png", contents[0].Parts[1].InlineData.MIMEType)
	assert.Equal(t, "model", contents[1].Role)
}

func TestConvertMessagesToGeminiRejectsBadImage(t *testing.T) {
	_, _, err := convertMessagesToGemini([]llm.CompletionMessage{
		llm.NewUserImageMessage("look", "not base64!!"),
	})
	require.Error(t, err)
}

func TestConvertMessagesToGeminiEmpty(t *testing.T) {
	_, _, err := convertMessagesToGemini(nil)
	require.Error(t, err)
}
