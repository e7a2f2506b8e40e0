package maintenance

import (
	"crypto/subtle"
	"strings"

	"github.com/handbok-org/handbok/pkg/config"
)

// Credential is what a caller presented to trigger a maintenance run.
// The two kinds belong to separate trust domains and are never interchangeable.
type Credential interface {
	kind() Trigger
}

// CronToken is the bearer secret sent by the scheduler.
type CronToken string

// AdminKey is the x-api-key sent on a manual admin trigger.
type AdminKey string

func (CronToken) kind() Trigger { return TriggerCron }
func (AdminKey) kind() Trigger  { return TriggerManual }

type Trigger string

const (
	TriggerCron   Trigger = "cron"
	TriggerManual Trigger = "manual"
	TriggerCLI    Trigger = "cli"
)

// CredentialFromRequest picks the credential for the request. A manual
// request only ever carries an AdminKey; the bearer header is ignored there.
func CredentialFromRequest(authorization, apiKey string, manual bool) Credential {
	if manual {
		if apiKey == "" {
			return nil
		}
		return AdminKey(apiKey)
	}
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || token == "" {
		return nil
	}
	return CronToken(token)
}

// Authorize reports which trigger the credential unlocks.
func Authorize(cfg config.CronConfig, cred Credential) (Trigger, bool) {
	switch c := cred.(type) {
	case CronToken:
		for _, secret := range cfg.CronSecrets() {
			if equal(string(c), secret) {
				return TriggerCron, true
			}
		}
	case AdminKey:
		if cfg.AdminAPIKey != "" && equal(string(c), cfg.AdminAPIKey) {
			return TriggerManual, true
		}
	}
	return "", false
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
