package audit

import (
	"time"
)

// Anonymous is the actor recorded when no identity is known.
const Anonymous = "anonymous"

// Action names the audited operation.
type Action string

const (
	ActionLogin             Action = "auth.login"
	ActionLoginMFARequired  Action = "auth.login.mfa_required"
	ActionMFAVerify         Action = "auth.mfa.verify"
	ActionRefresh           Action = "auth.token.refresh"
	ActionRefreshReuse      Action = "auth.token.reuse_detected"
	ActionLogout            Action = "auth.session.logout"
	ActionLogoutAll         Action = "auth.session.logout_all"
	ActionAuthorize         Action = "authz.decision"
	ActionTokenRejected     Action = "auth.token.rejected"
	ActionAccountLocked     Action = "account.locked"
	ActionAccountUnlocked   Action = "account.unlocked"
	ActionRegister          Action = "account.register"
	ActionPasswordChange    Action = "account.password.change"
	ActionMFAEnroll         Action = "account.mfa.enroll"
	ActionMFADisable        Action = "account.mfa.disable"
	ActionRoleChange        Action = "admin.role.change"
	ActionStatusChange      Action = "admin.status.change"
	ActionPermissionsChange Action = "admin.permissions.change"
	ActionRateLimited       Action = "ratelimit.exceeded"
)

// Outcome tags an entry with what actually happened.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Entry is one audit record. ID and Timestamp are always assigned by the
// [Logger]; values supplied by callers are overwritten.
type Entry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	ActorID      string         `json:"actor_id"`
	SessionID    string         `json:"session_id,omitempty"`
	Action       Action         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Outcome      Outcome        `json:"outcome"`
	Suspicious   bool           `json:"suspicious,omitempty"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
}

func cloneDetail(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
