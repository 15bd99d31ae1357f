package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"private-db-agent/internal/replay"
	"private-db-agent/internal/signing"
)

// Scheme is the signature mechanism a request or agent uses.
type Scheme string

const (
	SchemeHMAC Scheme = "hmac-sha256"
	SchemeEVM  Scheme = "evm-personal-sign"
)

// Failure codes, matching spec.md §4.F / §8 verbatim.
const (
	CodeMissingAuth           = "MISSING_AUTH"
	CodeSignerMismatch        = "SIGNER_MISMATCH"
	CodeSignatureDecodeFailed = "SIGNATURE_DECODE_FAILED"
	CodeA2ASignerNotConfigured = "A2A_SIGNER_NOT_CONFIGURED"
	CodeA2ASignatureMismatch   = "A2A_SIGNATURE_MISMATCH"
	CodeA2AAgentNotAllowed     = "A2A_AGENT_NOT_ALLOWED"
)

// Result is the outcome of an authentication attempt.
type Result struct {
	OK        bool
	Requester string // lowercased wallet address or agentId
	Scheme    Scheme
	Code      string
	Message   string
}

func fail(code, message string) Result {
	return Result{OK: false, Code: code, Message: message}
}

// Options configures replay-guard behavior and the dev-mode bypass.
type Options struct {
	Guard         *replay.Guard
	AllowUnsigned bool
}

// Authenticator verifies wallet and A2A signatures per spec.md §4.F.
type Authenticator struct {
	guard         *replay.Guard
	allowUnsigned bool
}

// NewAuthenticator builds an Authenticator.
func NewAuthenticator(opts Options) *Authenticator {
	return &Authenticator{guard: opts.Guard, allowUnsigned: opts.AllowUnsigned}
}

// VerifyUserAuth authenticates a /v1/query request: the recovered EVM
// signer must equal env.Requester. Replay/timestamp checks always run, even
// in allow-unsigned mode.
func (a *Authenticator) VerifyUserAuth(env UserAuthEnvelope, signature string) Result {
	if env.Nonce == "" || env.SignedAt == "" || (signature == "" && !a.allowUnsigned) {
		return fail(CodeMissingAuth, "missing nonce, signedAt, or signature")
	}

	if !a.allowUnsigned {
		message, err := BuildUserAuthMessage(env)
		if err != nil {
			return fail(CodeSignatureDecodeFailed, err.Error())
		}
		if err := signing.VerifyEVM(message, signature, env.Requester); err != nil {
			if errors.Is(err, signing.ErrAddressMismatch) {
				return fail(CodeSignerMismatch, "recovered signer does not match requester")
			}
			return fail(CodeSignatureDecodeFailed, err.Error())
		}
	}

	if replayCode, signedAt, ok := a.checkReplay("user-auth", env.TenantID, strings.ToLower(env.Requester), env.Nonce, env.SignedAt); !ok {
		return fail(replayCode, "replay guard rejected request")
	} else {
		_ = signedAt
	}

	return Result{OK: true, Requester: strings.ToLower(env.Requester), Scheme: SchemeEVM, Code: "ALLOWED"}
}

// VerifyPolicyMutation authenticates a wallet-authored control-plane
// request: the recovered EVM signer must equal env.ActorWallet.
func (a *Authenticator) VerifyPolicyMutation(env PolicyMutationEnvelope, signature string) Result {
	if env.Nonce == "" || env.SignedAt == "" || (signature == "" && !a.allowUnsigned) {
		return fail(CodeMissingAuth, "missing nonce, signedAt, or signature")
	}

	if !a.allowUnsigned {
		message, err := BuildPolicyMutationMessage(env)
		if err != nil {
			return fail(CodeSignatureDecodeFailed, err.Error())
		}
		if err := signing.VerifyEVM(message, signature, env.ActorWallet); err != nil {
			if errors.Is(err, signing.ErrAddressMismatch) {
				return fail(CodeSignerMismatch, "recovered signer does not match actorWallet")
			}
			return fail(CodeSignatureDecodeFailed, err.Error())
		}
	}

	if replayCode, _, ok := a.checkReplay("policy-mutation", env.TenantID, strings.ToLower(env.ActorWallet), env.Nonce, env.SignedAt); !ok {
		return fail(replayCode, "replay guard rejected request")
	}

	return Result{OK: true, Requester: strings.ToLower(env.ActorWallet), Scheme: SchemeEVM, Code: "ALLOWED"}
}

// AgentSigner describes how a registered peer agent authenticates.
type AgentSigner struct {
	AgentID         string
	Scheme          Scheme
	SharedSecret    string // for SchemeHMAC
	SignerAddress   string // for SchemeEVM, lowercased
	AllowedTaskTypes []string
}

// VerifyA2A authenticates an /v1/a2a/* request per the agent's registered
// scheme.
func (a *Authenticator) VerifyA2A(env A2AEnvelope, signature string, agent *AgentSigner) Result {
	if env.Nonce == "" || env.Timestamp == "" || (signature == "" && !a.allowUnsigned) {
		return fail(CodeMissingAuth, "missing nonce, timestamp, or signature")
	}
	if agent == nil {
		return fail(CodeA2ASignerNotConfigured, fmt.Sprintf("no signer registered for agent %q", env.AgentID))
	}

	if !a.allowUnsigned {
		message, err := BuildA2AMessage(env)
		if err != nil {
			return fail(CodeSignatureDecodeFailed, err.Error())
		}
		switch agent.Scheme {
		case SchemeHMAC:
			if agent.SharedSecret == "" {
				return fail(CodeA2ASignerNotConfigured, "agent has no shared secret configured")
			}
			if err := signing.VerifyHMAC(agent.SharedSecret, message, signature); err != nil {
				return fail(CodeA2ASignatureMismatch, err.Error())
			}
		case SchemeEVM:
			if agent.SignerAddress == "" {
				return fail(CodeA2ASignerNotConfigured, "agent has no signer address configured")
			}
			if err := signing.VerifyEVM(message, signature, agent.SignerAddress); err != nil {
				return fail(CodeA2ASignatureMismatch, err.Error())
			}
		default:
			return fail(CodeA2ASignerNotConfigured, fmt.Sprintf("unknown scheme %q", agent.Scheme))
		}
	}

	if replayCode, _, ok := a.checkReplay("a2a", env.AgentID, env.AgentID, env.Nonce, env.Timestamp); !ok {
		return fail(replayCode, "replay guard rejected request")
	}

	return Result{OK: true, Requester: env.AgentID, Scheme: agent.Scheme, Code: "ALLOWED"}
}

// checkReplay parses signedAt and runs it + nonce through the replay
// guard, partitioning by (channel, tenantOrAgent, identity).
func (a *Authenticator) checkReplay(channel, tenantOrAgent, identity, nonce, signedAtRaw string) (code string, signedAt time.Time, ok bool) {
	signedAt, err := time.Parse(time.RFC3339, signedAtRaw)
	if err != nil {
		return "INVALID_SIGNED_AT", time.Time{}, false
	}
	if a.guard == nil {
		return "", signedAt, true
	}
	scope := replay.ScopeKey(channel, tenantOrAgent, identity)
	result := a.guard.Check(scope, nonce, signedAt)
	if result != replay.CodeOK {
		return replayCodeForChannel(channel, result), signedAt, false
	}
	return "", signedAt, true
}

// replayCodeForChannel maps the guard's generic codes onto the
// channel-prefixed codes spec.md documents for A2A vs. other channels.
func replayCodeForChannel(channel, code string) string {
	if channel == "a2a" && code == replay.CodeNonceReplay {
		return "A2A_NONCE_REPLAY"
	}
	return code
}
