package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quizline/curator/pkg/anthropic"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func newTestModel(client anthropic.Client) *AnthropicModel {
	return NewAnthropicModel(client, Config{
		Model:             "claude-haiku-4-5-20251001",
		RequestsPerMinute: 6000,
		MaxRetries:        1,
	})
}

func TestGenerate_ParsesFencedArray(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("```json\n[\"What keeps you curious?\", \"  \", \"Who inspired you today?\"]\n```"), nil)

	out, err := newTestModel(mc).Generate(context.Background(), "reflective tone", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"What keeps you curious?", "Who inspired you today?"}, out)
}

func TestGenerate_TruncatesToCount(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`["a", "b", "c"]`), nil)

	out, err := newTestModel(mc).Generate(context.Background(), "p", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out)
}

func TestGenerate_MalformedReply(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("I cannot answer that."), nil)

	_, err := newTestModel(mc).Generate(context.Background(), "p", 1)
	assert.Error(t, err)
}

func TestGroupDuplicates_FiltersHallucinatedAndSmallGroups(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"groups": [
			{"member_ids": ["q1", "q2", "ghost"], "reason": "same question", "confidence": 1.7},
			{"member_ids": ["q3", "ghost"], "reason": "only one real member", "confidence": 0.8}
		]}`), nil)

	items := []BatchItem{
		{ID: "q1", Text: "What makes you happy?"},
		{ID: "q2", Text: "What brings you happiness?"},
		{ID: "q3", Text: "What scares you?"},
	}

	groups, err := newTestModel(mc).GroupDuplicates(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"q1", "q2"}, groups[0].MemberIDs)
	assert.Equal(t, "same question", groups[0].Reason)
	assert.InDelta(t, 1.0, groups[0].Confidence, 0.001) // clamped
}

func TestGroupDuplicates_SkipsTinyBatches(t *testing.T) {
	mc := new(mockAnthropicClient)

	groups, err := newTestModel(mc).GroupDuplicates(context.Background(), []BatchItem{{ID: "q1", Text: "solo"}})
	require.NoError(t, err)
	assert.Nil(t, groups)
	mc.AssertNotCalled(t, "CreateMessage")
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"fenced object", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no lang", "```\n[1,2]\n```", `[1,2]`},
		{"prose around array", "Here you go: [1,2] hope that helps", `[1,2]`},
		{"prose around object", "Sure! {\"a\":1} done", `{"a":1}`},
		{"array before object", `[{"a":1}]`, `[{"a":1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}
