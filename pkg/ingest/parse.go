package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pario-ai/budgeteer/pkg/models"
)

// ErrNotUsage is returned for well-formed log lines that carry no billable
// invocation, such as unrelated audit-trail events.
var ErrNotUsage = errors.New("not a usage event")

// DefaultRegion is used when a log line names no region.
const DefaultRegion = "us-east-1"

// Decoder turns one input line into a usage event.
type Decoder func(line []byte) (models.UsageEvent, error)

// DecodeJSON decodes a UsageEvent JSON object.
func DecodeJSON(line []byte) (models.UsageEvent, error) {
	var ev models.UsageEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, nil
}

// ParseInvocationLog extracts a usage event from a model invocation log
// line. The line may wrap the log as a JSON string in "message"; wrapper
// metadata is then still honoured. API audit-trail records of model
// invocations are accepted too.
func ParseInvocationLog(line []byte) (models.UsageEvent, error) {
	if !gjson.ValidBytes(line) {
		return models.UsageEvent{}, fmt.Errorf("%w: invalid JSON", ErrMalformedEvent)
	}
	root := gjson.ParseBytes(line)
	meta := root.Get("_metadata")
	if msg := root.Get("message"); msg.Type == gjson.String && gjson.Valid(msg.Str) {
		root = gjson.Parse(msg.Str)
		if !meta.Exists() {
			meta = root.Get("_metadata")
		}
	}

	var (
		ev  models.UsageEvent
		err error
	)
	switch {
	case root.Get("input").Exists() && root.Get("output").Exists():
		ev, err = parseInvocation(root, meta)
	case root.Get("eventName").Exists():
		ev, err = parseAuditTrail(root)
	default:
		return models.UsageEvent{}, fmt.Errorf("%w: unrecognised log format", ErrMalformedEvent)
	}
	if err != nil {
		return models.UsageEvent{}, err
	}
	ev.UsageType = models.UsageTypeInvocation
	if ev.Principal == "" {
		return models.UsageEvent{}, fmt.Errorf("%w: no principal in log", ErrMalformedEvent)
	}
	if ev.Model == "" {
		return models.UsageEvent{}, fmt.Errorf("%w: no model in log", ErrMalformedEvent)
	}
	return ev, nil
}

func parseInvocation(root, meta gjson.Result) (models.UsageEvent, error) {
	ev := models.UsageEvent{
		EventID:   root.Get("requestId").String(),
		Model:     root.Get("modelId").String(),
		Region:    region(root),
		Timestamp: timestamp(root.Get("timestamp")),
	}

	ev.Principal = meta.Get("principal_id").String()
	if ev.Principal == "" {
		if arn := root.Get("identity.arn").String(); strings.Contains(arn, ":user/") {
			ev.Principal = arn[strings.LastIndex(arn, ":user/")+len(":user/"):]
		}
	}

	ev.Tokens = messageUsage(root.Get("output.outputBodyJson"))
	if ev.Tokens.Total() == 0 {
		ev.Tokens = models.TokenCounts{
			Input:      root.Get("input.inputTokenCount").Int(),
			Output:     root.Get("output.outputTokenCount").Int(),
			CacheRead:  root.Get("input.cacheReadInputTokenCount").Int(),
			CacheWrite: root.Get("input.cacheWriteInputTokenCount").Int(),
		}
	}
	return ev, nil
}

// messageUsage reads the usage block of a response body: the body object
// itself, or the message_start item of a streamed response.
func messageUsage(body gjson.Result) models.TokenCounts {
	usage := body.Get("usage")
	if body.IsArray() {
		usage = gjson.Result{}
		body.ForEach(func(_, item gjson.Result) bool {
			if item.Get("type").String() == "message_start" {
				usage = item.Get("message.usage")
				return false
			}
			return true
		})
	}
	if !usage.Exists() {
		return models.TokenCounts{}
	}
	return models.TokenCounts{
		Input:      usage.Get("input_tokens").Int(),
		Output:     usage.Get("output_tokens").Int(),
		CacheWrite: usage.Get("cache_creation_input_tokens").Int(),
		CacheRead:  usage.Get("cache_read_input_tokens").Int(),
	}
}

func parseAuditTrail(root gjson.Result) (models.UsageEvent, error) {
	switch name := root.Get("eventName").String(); name {
	case "InvokeModel", "InvokeModelWithResponseStream":
	default:
		return models.UsageEvent{}, fmt.Errorf("%w: %s", ErrNotUsage, name)
	}
	principal := root.Get("userIdentity.userName").String()
	if principal == "" {
		principal = root.Get("userIdentity.sessionContext.sessionIssuer.userName").String()
	}
	return models.UsageEvent{
		EventID:   root.Get("eventID").String(),
		Principal: principal,
		Model:     root.Get("requestParameters.modelId").String(),
		Region:    region(root),
		Timestamp: timestamp(root.Get("eventTime")),
		Tokens: models.TokenCounts{
			Input:  root.Get("responseElements.usage.inputTokens").Int(),
			Output: root.Get("responseElements.usage.outputTokens").Int(),
		},
	}, nil
}

func region(root gjson.Result) string {
	if r := root.Get("region").String(); r != "" {
		return r
	}
	if r := root.Get("awsRegion").String(); r != "" {
		return r
	}
	return DefaultRegion
}

func timestamp(v gjson.Result) time.Time {
	if !v.Exists() {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v.String())
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
