package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/models"
)

// ProvisioningEvent reports that an identity was created or granted credentials.
type ProvisioningEvent struct {
	EventName string `json:"event_name"`
	Principal string `json:"principal_id"`
}

var provisioningEvents = map[string]bool{
	"CreateUser":                      true,
	"CreateServiceSpecificCredential": true,
	"AttachUserPolicy":                true,
	"CreateAccessKey":                 true,
	"PutUserPolicy":                   true,
}

// ParseProvisioningEvent extracts a ProvisioningEvent from an identity
// audit record, optionally wrapped in an envelope with a "detail" field.
func ParseProvisioningEvent(line []byte) (ProvisioningEvent, error) {
	if !gjson.ValidBytes(line) {
		return ProvisioningEvent{}, fmt.Errorf("%w: invalid JSON", ErrMalformedEvent)
	}
	root := gjson.ParseBytes(line)
	if d := root.Get("detail"); d.IsObject() {
		root = d
	}
	name := root.Get("eventName").String()
	if name == "" {
		return ProvisioningEvent{}, fmt.Errorf("%w: missing eventName", ErrMalformedEvent)
	}

	var principal string
	switch name {
	case "CreateUser":
		principal = root.Get("responseElements.user.userName").String()
	case "CreateServiceSpecificCredential":
		principal = root.Get("requestParameters.userName").String()
	default:
		principal = root.Get("requestParameters.userName").String()
		if principal == "" {
			principal = root.Get("userIdentity.userName").String()
		}
	}
	return ProvisioningEvent{EventName: name, Principal: principal}, nil
}

// Provisioner creates budgets for newly provisioned principals so they are
// enforced before their first invocation.
type Provisioner struct {
	ledger *ledger.Ledger
	cfg    *config.Live
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(l *ledger.Ledger, cfg *config.Live) *Provisioner {
	return &Provisioner{ledger: l, cfg: cfg}
}

// Handle ensures a budget for ev's principal when the event is relevant and
// the principal carries the configured prefix. It reports whether a record
// was created.
func (p *Provisioner) Handle(ctx context.Context, ev ProvisioningEvent) (bool, error) {
	if !provisioningEvents[ev.EventName] {
		log.Debug().Str("event", ev.EventName).Msg("ignoring provisioning event type")
		return false, nil
	}
	prefix := p.cfg.Budget().AutoCreatePrefix
	if ev.Principal == "" || !strings.HasPrefix(ev.Principal, prefix) {
		log.Debug().Str("event", ev.EventName).Str("principal", ev.Principal).Msg("principal not subject to auto-create")
		return false, nil
	}
	return p.ledger.Ensure(ctx, ev.Principal, models.AccountTypeAPIKey, ev.EventName)
}
