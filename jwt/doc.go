// Package jwt issues and verifies authcore access and refresh tokens.
//
// Access tokens embed the subject's role and effective permission snapshot
// and live for minutes. Refresh tokens carry only a session id and a token id
// and are exchanged once; single-use enforcement lives in the session store.
//
// Verification checks the signature first, then expiry, then claim shape,
// and wraps exactly one of [ErrBadSignature], [ErrExpired] or [ErrMalformed].
// The algorithm is fixed by [Config.SigningMethod] and never taken from the
// token header.
package jwt
