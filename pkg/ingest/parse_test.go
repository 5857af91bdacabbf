package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/budgeteer/pkg/models"
)

const streamedLog = `{
  "timestamp": "2025-05-02T10:15:00Z",
  "requestId": "req-42",
  "region": "us-west-2",
  "modelId": "anthropic.claude-3-5-sonnet-20240620-v1:0",
  "identity": {"arn": "arn:aws:iam::123456789012:user/BedrockAPIKey-abc"},
  "input": {"inputTokenCount": 9, "cacheReadInputTokenCount": 0},
  "output": {
    "outputTokenCount": 9,
    "outputBodyJson": [
      {"type": "message_start", "message": {"usage": {"input_tokens": 1200, "cache_creation_input_tokens": 300, "cache_read_input_tokens": 50, "output_tokens": 1}}},
      {"type": "content_block_delta"},
      {"type": "message_delta", "usage": {"output_tokens": 400}}
    ]
  }
}`

func TestParseStreamedInvocation(t *testing.T) {
	ev, err := ParseInvocationLog([]byte(streamedLog))
	require.NoError(t, err)
	assert.Equal(t, "BedrockAPIKey-abc", ev.Principal)
	assert.Equal(t, "req-42", ev.EventID)
	assert.Equal(t, "us-west-2", ev.Region)
	assert.Equal(t, "anthropic.claude-3-5-sonnet-20240620-v1:0", ev.Model)
	assert.Equal(t, models.TokenCounts{Input: 1200, CacheWrite: 300, CacheRead: 50, Output: 1}, ev.Tokens)
	assert.Equal(t, time.Date(2025, 5, 2, 10, 15, 0, 0, time.UTC), ev.Timestamp)
	assert.Equal(t, models.UsageTypeInvocation, ev.UsageType)
}

func TestParseTopLevelCounts(t *testing.T) {
	line := `{"modelId":"amazon.nova-pro-v1:0","awsRegion":"eu-west-1",
	  "_metadata":{"principal_id":"svc-batch"},
	  "input":{"inputTokenCount":500,"cacheReadInputTokenCount":20,"cacheWriteInputTokenCount":10},
	  "output":{"outputTokenCount":70,"outputBodyJson":{"output":{"message":{}}}}}`
	ev, err := ParseInvocationLog([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, "svc-batch", ev.Principal)
	assert.Equal(t, "eu-west-1", ev.Region)
	assert.Equal(t, models.TokenCounts{Input: 500, Output: 70, CacheRead: 20, CacheWrite: 10}, ev.Tokens)
}

func TestParseObjectBodyUsage(t *testing.T) {
	line := `{"modelId":"m","_metadata":{"principal_id":"p"},"input":{},
	  "output":{"outputBodyJson":{"usage":{"input_tokens":10,"output_tokens":20}}}}`
	ev, err := ParseInvocationLog([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, models.TokenCounts{Input: 10, Output: 20}, ev.Tokens)
	assert.Equal(t, DefaultRegion, ev.Region)
}

func TestParseWrappedMessage(t *testing.T) {
	inner := `{"modelId":"m","identity":{"arn":"arn:aws:iam::1:user/ignored"},"input":{"inputTokenCount":5},"output":{"outputTokenCount":6}}`
	wrapped, err := json.Marshal(map[string]any{
		"message":   inner,
		"_metadata": map[string]string{"principal_id": "from-wrapper"},
	})
	require.NoError(t, err)

	ev, err := ParseInvocationLog(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "from-wrapper", ev.Principal)
	assert.Equal(t, models.TokenCounts{Input: 5, Output: 6}, ev.Tokens)
}

func TestParseAuditTrail(t *testing.T) {
	line := `{"eventName":"InvokeModel","eventID":"ct-1","eventTime":"2025-05-02T11:00:00Z","awsRegion":"us-east-2",
	  "userIdentity":{"userName":"BedrockAPIKey-x"},
	  "requestParameters":{"modelId":"anthropic.claude-3-haiku"},
	  "responseElements":{"usage":{"inputTokens":100,"outputTokens":50}}}`
	ev, err := ParseInvocationLog([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, "BedrockAPIKey-x", ev.Principal)
	assert.Equal(t, "ct-1", ev.EventID)
	assert.Equal(t, models.TokenCounts{Input: 100, Output: 50}, ev.Tokens)

	_, err = ParseInvocationLog([]byte(`{"eventName":"ListFoundationModels"}`))
	assert.ErrorIs(t, err, ErrNotUsage)
}

func TestParseMalformed(t *testing.T) {
	for _, line := range []string{
		`{`,
		`{"foo":"bar"}`,
		`{"modelId":"m","input":{},"output":{}}`,
		`{"_metadata":{"principal_id":"p"},"input":{},"output":{}}`,
	} {
		_, err := ParseInvocationLog([]byte(line))
		assert.ErrorIs(t, err, ErrMalformedEvent, line)
	}
}

func TestParseProvisioningEvent(t *testing.T) {
	tests := []struct {
		line string
		want ProvisioningEvent
	}{
		{
			`{"detail":{"eventName":"CreateUser","responseElements":{"user":{"userName":"BedrockAPIKey-1"}}}}`,
			ProvisioningEvent{EventName: "CreateUser", Principal: "BedrockAPIKey-1"},
		},
		{
			`{"eventName":"CreateServiceSpecificCredential","requestParameters":{"userName":"BedrockAPIKey-2"}}`,
			ProvisioningEvent{EventName: "CreateServiceSpecificCredential", Principal: "BedrockAPIKey-2"},
		},
		{
			`{"eventName":"CreateAccessKey","userIdentity":{"userName":"BedrockAPIKey-3"}}`,
			ProvisioningEvent{EventName: "CreateAccessKey", Principal: "BedrockAPIKey-3"},
		},
	}
	for _, tt := range tests {
		got, err := ParseProvisioningEvent([]byte(tt.line))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := ParseProvisioningEvent([]byte(`{"detail":{}}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
