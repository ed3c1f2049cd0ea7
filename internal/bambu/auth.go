// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package bambu

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/bambugate/internal/logging"
)

// CodeProvider supplies a verification code when the vendor demands a
// second factor. Implementations may prompt a terminal, poll a
// mailbox, or read a pre-shared value.
type CodeProvider func(ctx context.Context) (string, error)

// Authenticator drives the Bambu Lab credential exchange: password
// login, the email verification code branch, and the MFA branch. A
// successfully obtained access token is persisted to the credential
// file with owner-only permissions.
type Authenticator struct {
	client   *Client
	region   string
	credFile string
}

// NewAuthenticator creates an Authenticator using the given vendor
// client. The credential file holds the last obtained token.
func NewAuthenticator(client *Client, region, credFile string) *Authenticator {
	return &Authenticator{
		client:   client,
		region:   region,
		credFile: credFile,
	}
}

// loginResponse is the vendor's answer to a login or verification
// attempt. A non-empty LoginType signals that a further step is
// required.
type loginResponse struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"accessToken"`
	Token       string `json:"token"`
	LoginType   string `json:"loginType"`
	TfaKey      string `json:"tfaKey"`
	Message     string `json:"message"`
	Error       string `json:"error"`
}

// Login performs the full credential exchange and returns an access
// token. The flow:
//
//  1. POST credentials to the login endpoint.
//  2. On success, take the token from the body.
//  3. On loginType "verifyCode", request an email code, obtain it from
//     the CodeProvider, and complete the login with it.
//  4. On loginType "tfa", obtain the MFA code from the CodeProvider
//     and complete via the tfa endpoint, where the token may arrive in
//     a cookie instead of the body.
//
// The obtained token is saved to the credential file before returning.
func (a *Authenticator) Login(ctx context.Context, username, password string, code CodeProvider) (string, error) {
	payload := map[string]string{
		"account":  username,
		"password": password,
		"apiError": "",
	}

	var res loginResponse
	if _, err := a.client.postJSON(ctx, "/v1/user-service/user/login", payload, &res); err != nil {
		return "", &AuthError{Stage: "login", Msg: "login request failed", Err: err}
	}

	if res.Success {
		if res.AccessToken == "" {
			return "", &AuthError{Stage: "login", Msg: "login succeeded but no token received"}
		}
		a.saveToken(res.AccessToken)
		return res.AccessToken, nil
	}

	switch res.LoginType {
	case "verifyCode":
		return a.loginWithEmailCode(ctx, username, code)
	case "tfa":
		return a.loginWithMFA(ctx, res.TfaKey, code)
	default:
		msg := res.Message
		if msg == "" {
			msg = res.Error
		}
		if msg == "" {
			msg = "unknown error"
		}
		return "", &AuthError{Stage: "login", Msg: msg}
	}
}

// loginWithEmailCode handles the email verification branch: the
// vendor mails a code, the CodeProvider supplies it, and a second
// login call with the code yields the token.
func (a *Authenticator) loginWithEmailCode(ctx context.Context, email string, code CodeProvider) (string, error) {
	if code == nil {
		return "", &AuthError{Stage: "email verification", Msg: "verification code required but no code provider configured"}
	}

	sendPayload := map[string]string{
		"email": email,
		"type":  "codeLogin",
	}
	if _, err := a.client.postJSON(ctx, "/v1/user-service/user/sendemail/code", sendPayload, nil); err != nil {
		return "", &AuthError{Stage: "email verification", Msg: "failed to request verification code", Err: err}
	}

	logging.Info().Str("email", maskEmail(email)).Msg("Verification code requested")

	verificationCode, err := code(ctx)
	if err != nil {
		return "", &AuthError{Stage: "email verification", Msg: "code provider failed", Err: err}
	}

	verifyPayload := map[string]string{
		"account": email,
		"code":    verificationCode,
	}
	var res loginResponse
	if _, err := a.client.postJSON(ctx, "/v1/user-service/user/login", verifyPayload, &res); err != nil {
		return "", &AuthError{Stage: "email verification", Msg: "verification request failed", Err: err}
	}

	if res.AccessToken == "" {
		msg := res.Message
		if msg == "" {
			msg = "verification failed"
		}
		return "", &AuthError{Stage: "email verification", Msg: msg}
	}

	a.saveToken(res.AccessToken)
	return res.AccessToken, nil
}

// loginWithMFA handles the multi-factor branch. The tfa endpoint
// normally returns the token in the response body; some deployments
// set it in a "token" cookie instead, so that is the fallback.
func (a *Authenticator) loginWithMFA(ctx context.Context, tfaKey string, code CodeProvider) (string, error) {
	if code == nil {
		return "", &AuthError{Stage: "mfa", Msg: "MFA code required but no code provider configured"}
	}

	mfaCode, err := code(ctx)
	if err != nil {
		return "", &AuthError{Stage: "mfa", Msg: "code provider failed", Err: err}
	}

	payload := map[string]string{
		"tfaKey":  tfaKey,
		"tfaCode": mfaCode,
	}
	resp, err := a.client.postJSON(ctx, "/api/sign-in/tfa", payload, nil)
	if err != nil {
		return "", &AuthError{Stage: "mfa", Msg: "mfa request failed", Err: err}
	}

	var token string
	if len(strings.TrimSpace(string(resp.Body))) > 0 {
		var res loginResponse
		if err := json.Unmarshal(resp.Body, &res); err != nil {
			return "", &AuthError{Stage: "mfa", Msg: "invalid response", Err: err}
		}
		token = res.AccessToken
		if token == "" {
			token = res.Token
		}
	}
	if token == "" {
		for _, cookie := range resp.Cookies() {
			if cookie.Name == "token" {
				token = cookie.Value
				break
			}
		}
	}

	if token == "" {
		return "", &AuthError{Stage: "mfa", Msg: "MFA verification failed"}
	}

	a.saveToken(token)
	return token, nil
}

// savedCredential is the credential file payload.
type savedCredential struct {
	Region string `json:"region"`
	Token  string `json:"token"`
}

// saveToken persists the access token. Failure to save is logged, not
// fatal; the token is still usable for this process lifetime.
func (a *Authenticator) saveToken(token string) {
	data, err := json.MarshalIndent(savedCredential{Region: a.region, Token: token}, "", "  ")
	if err != nil {
		logging.Warn().Err(err).Msg("Could not encode credential file")
		return
	}
	if err := os.WriteFile(a.credFile, data, 0o600); err != nil {
		logging.Warn().Err(err).Str("path", a.credFile).Msg("Could not save credential file")
	}
}

// LoadToken reads the saved access token. Returns empty string when
// no usable credential file exists.
func (a *Authenticator) LoadToken() string {
	raw, err := os.ReadFile(a.credFile)
	if err != nil {
		return ""
	}
	var cred savedCredential
	if err := json.Unmarshal(raw, &cred); err != nil {
		logging.Warn().Err(err).Str("path", a.credFile).Msg("Could not parse credential file")
		return ""
	}
	return cred.Token
}

// VerifyToken checks a token against the profile endpoint.
func (a *Authenticator) VerifyToken(ctx context.Context, token string) bool {
	resp, err := a.client.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   "/v1/user-service/my/profile",
		Token:  token,
	})
	if err != nil {
		return false
	}
	return resp.StatusCode == http.StatusOK
}

// GetOrCreateToken returns a working access token: the saved one when
// it still verifies, otherwise a fresh login. Set forceNew to skip the
// saved token entirely.
func (a *Authenticator) GetOrCreateToken(ctx context.Context, username, password string, code CodeProvider, forceNew bool) (string, error) {
	if !forceNew {
		if token := a.LoadToken(); token != "" {
			if a.VerifyToken(ctx, token) {
				return token, nil
			}
			logging.Info().Msg("Saved credential no longer valid, performing fresh login")
		}
	}

	if username == "" || password == "" {
		return "", &AuthError{Stage: "login", Msg: "no saved credential and no username/password provided"}
	}
	return a.Login(ctx, username, password, code)
}

// maskEmail hides the local part of an address for logging.
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return "***"
	}
	return fmt.Sprintf("%c***%s", email[0], email[at:])
}
