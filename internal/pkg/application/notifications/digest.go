package notifications

import (
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/vardwise/patient-monitoring/pkg/types"
)

// digest collects warning alerts per caregiver so they go out as one daily
// summary instead of a stream of pings.
type digest struct {
	mu      sync.Mutex
	entries map[string]*digestEntry
}

type digestEntry struct {
	contact types.Contact
	tenant  string
	alerts  []types.Alert
}

func newDigest() *digest {
	return &digest{entries: map[string]*digestEntry{}}
}

func (d *digest) add(contact types.Contact, alert types.Alert) {
	key := contact.Email
	if key == "" {
		key = contact.Phone
	}
	if key == "" {
		key = contact.PushToken
	}
	if key == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[key]
	if !ok {
		e = &digestEntry{contact: contact, tenant: alert.Tenant}
		d.entries[key] = e
	}

	e.alerts = append(e.alerts, alert)
}

func (d *digest) drain() []*digestEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := lo.Values(d.entries)
	d.entries = map[string]*digestEntry{}

	return entries
}

func (e *digestEntry) summary() types.Alert {
	lines := lo.Map(e.alerts, func(a types.Alert, _ int) string {
		return fmt.Sprintf("%s: %s", a.PatientID, a.Title)
	})

	return types.Alert{
		Condition: "daily_digest",
		Severity:  types.SeverityInfo,
		Tenant:    e.tenant,
		Title:     fmt.Sprintf("Daily summary, %d warnings for your patients", len(e.alerts)),
		Message:   strings.Join(lines, "; "),
	}
}
