package mutation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"private-db-agent/internal/canonical"
	"private-db-agent/internal/policy"
)

// grantFromPayload builds a policy.Grant from a grant-shaped payload
// object, stamping GrantID/IssuedBy/IssuedAt/SignatureHash from the
// enclosing request.
func grantFromPayload(req Request, m map[string]interface{}) (policy.Grant, *Failure) {
	walletAddress, _ := m["walletAddress"].(string)
	scopeType, _ := m["scopeType"].(string)
	scopeID, _ := m["scopeId"].(string)
	operation, _ := m["operation"].(string)
	effect, _ := m["effect"].(string)

	if walletAddress == "" || scopeType == "" || scopeID == "" || operation == "" || effect == "" {
		return policy.Grant{}, fail(CodeInvalidPayload, "grant requires walletAddress, scopeType, scopeId, operation, effect")
	}
	if scopeType == string(policy.ScopeTable) && scopeID == "*" {
		return policy.Grant{}, fail(CodeInvalidPayload, `scopeId "*" is only valid for scopeType "database"`)
	}

	hash, err := canonical.Hash(m)
	if err != nil {
		return policy.Grant{}, fail(CodeInvalidPayload, fmt.Sprintf("hash grant payload: %v", err))
	}

	return policy.Grant{
		GrantID:       uuid.NewString(),
		TenantID:      req.TenantID,
		WalletAddress: walletAddress,
		ScopeType:     policy.ScopeType(scopeType),
		ScopeID:       scopeID,
		Operation:     policy.Operation(operation),
		Effect:        policy.Effect(effect),
		IssuedBy:      req.ActorWallet,
		IssuedAt:      time.Now().UTC(),
		SignatureHash: hash,
	}, nil
}

// grantCreate authenticates via the enclosing policy-mutation signature
// (already verified by the caller) and mutates the grant store, honoring
// the bootstrap rule: a tenant's very first grant:create is accepted if it
// self-issues database:*:all:allow and no grants exist yet.
func (s *Service) grantCreate(req Request) (Response, *Failure) {
	g, failure := grantFromPayload(req, req.Payload)
	if failure != nil {
		return Response{}, failure
	}

	if !s.grants.HasAnyGrants(req.TenantID) {
		if !policy.IsBootstrapGrant(g) || g.WalletAddress != req.ActorWallet {
			return Response{}, fail(CodeBootstrapRequired, "tenant has no grants yet; the first grant:create must self-issue database:*:all:allow")
		}
	} else {
		decision := s.grants.Evaluate(req.TenantID, req.ActorWallet, policy.ScopeDatabase, "*", policy.OpAlter)
		if !decision.Allow {
			return Response{}, fail(decision.Code, "grant:create requires database:*:alter:allow")
		}
	}

	if err := s.grants.Create(g); err != nil {
		if err == policy.ErrGrantExists {
			return Response{}, fail(CodeGrantAlreadyExists, err.Error())
		}
		return Response{}, fail(CodeInvalidPayload, err.Error())
	}

	return Response{
		Code: CodeGrantCreated,
		Body: map[string]interface{}{"grantId": g.GrantID, "signatureHash": g.SignatureHash},
	}, nil
}

// grantRevoke mutates the grant store, optionally asserting
// expectedSignatureHash against the stored grant's SignatureHash.
func (s *Service) grantRevoke(req Request) (Response, *Failure) {
	g, failure := grantFromPayload(req, req.Payload)
	if failure != nil {
		return Response{}, failure
	}
	expectedHash, _ := req.Payload["expectedSignatureHash"].(string)

	if err := s.grants.Revoke(g, expectedHash); err != nil {
		switch err {
		case policy.ErrSignatureHashMismatch:
			return Response{}, fail("GRANT_SIGNATURE_HASH_MISMATCH", err.Error())
		case policy.ErrGrantNotFound:
			return Response{}, fail("POLICY_GRANT_NOT_FOUND", err.Error())
		default:
			return Response{}, fail(CodeInvalidPayload, err.Error())
		}
	}

	return Response{Code: CodeGrantRevoked, Body: map[string]interface{}{"grantId": g.GrantID}}, nil
}

// aiDraftApprove produces an approval record bound to (draftId, draftHash).
func (s *Service) aiDraftApprove(req Request) (Response, *Failure) {
	draftID, _ := req.Payload["draftId"].(string)
	draftHash, _ := req.Payload["draftHash"].(string)
	if draftID == "" || draftHash == "" {
		return Response{}, fail(CodeInvalidPayload, "ai:draft:approve requires draftId and draftHash")
	}
	if _, ok := s.drafts.Get(draftID); !ok {
		return Response{}, fail("AI_DRAFT_NOT_FOUND", fmt.Sprintf("no draft registered for %q", draftID))
	}

	approval := Approval{
		ApprovalID: uuid.NewString(),
		DraftID:    draftID,
		DraftHash:  draftHash,
		ApprovedBy: req.ActorWallet,
		ApprovedAt: time.Now().UTC().Format(time.RFC3339),
	}
	s.approvals.Put(approval)

	return Response{
		Code: CodeApprovalCreated,
		Body: map[string]interface{}{
			"approvalId": approval.ApprovalID,
			"draftId":    approval.DraftID,
			"approvedBy": approval.ApprovedBy,
			"approvedAt": approval.ApprovedAt,
		},
	}, nil
}
