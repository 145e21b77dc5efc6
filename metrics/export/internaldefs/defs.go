package internaldefs

import "github.com/MrEthical07/authcore"

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Logins that issued a session."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Logins rejected for bad credentials or account state."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Logins rejected by the per email and IP limit."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Logins rejected because the account was locked."},
	{ID: authcore.MetricAccountLocked, Name: "authcore_account_locked_total", Help: "Accounts locked after repeated failures."},
	{ID: authcore.MetricMFARequired, Name: "authcore_mfa_required_total", Help: "Logins that issued an MFA challenge."},
	{ID: authcore.MetricMFASuccess, Name: "authcore_mfa_success_total", Help: "MFA challenges completed."},
	{ID: authcore.MetricMFAFailure, Name: "authcore_mfa_failure_total", Help: "Wrong MFA codes."},
	{ID: authcore.MetricMFAReplay, Name: "authcore_mfa_replay_total", Help: "MFA codes rejected because their time step was already used."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Refresh token rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh tokens."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: authcore.MetricRefreshRateLimited, Name: "authcore_refresh_rate_limited_total", Help: "Refreshes rejected by the per session limit."},
	{ID: authcore.MetricAuthorizeAllowed, Name: "authcore_authorize_allowed_total", Help: "Authorized requests."},
	{ID: authcore.MetricAuthorizeUnauthenticated, Name: "authcore_authorize_unauthenticated_total", Help: "Requests with a missing, invalid or expired access token."},
	{ID: authcore.MetricAuthorizeForbidden, Name: "authcore_authorize_forbidden_total", Help: "Requests denied for permission, role or ownership."},
	{ID: authcore.MetricSessionRevokedRejected, Name: "authcore_session_revoked_rejected_total", Help: "Requests carrying a token of a revoked session."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Sessions created."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Identities registered."},
	{ID: authcore.MetricPasswordChange, Name: "authcore_password_change_total", Help: "Password changes."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Rate limit checks that denied a request."},
	{ID: authcore.MetricInfrastructureFailure, Name: "authcore_infrastructure_failure_total", Help: "Requests denied because a backend failed."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_authorize_latency_seconds", Help: "AuthorizeRequest latency."},
}

// AuditFailures is exported next to the engine counters.
var AuditFailures = CounterDef{
	Name: "authcore_audit_write_failures_total",
	Help: "Audit entries the sink failed to store.",
}

// HistogramBounds are the finite bucket upper bounds in seconds. The engine
// keeps one more bucket for +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names every bucket, +Inf included, for exporters
// that publish one instrument per bucket.
var HistogramBoundSuffix = []string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// CumulativeBuckets converts raw per-bucket counts to running totals. Short
// input is padded with zeros.
func CumulativeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(out); i++ {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
