package verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/parlourguard/internal/models"
)

// ApprovalStore reads administrator approvals; a missing approval is models.ErrNotFound
type ApprovalStore interface {
	GetApproval(ctx context.Context, challengeID string) (*models.ChallengeApproval, error)
}

// ApprovalVerifier passes once an administrator has approved the challenge. The answer is ignored.
type ApprovalVerifier struct {
	approvals ApprovalStore
}

func NewApprovalVerifier(approvals ApprovalStore) *ApprovalVerifier {
	return &ApprovalVerifier{approvals: approvals}
}

func (v *ApprovalVerifier) Prepare(ctx context.Context, challenge *models.Challenge) (Delivery, error) {
	return Delivery{}, nil
}

func (v *ApprovalVerifier) Verify(ctx context.Context, challenge *models.Challenge, answer string) (bool, error) {
	approval, err := v.approvals.GetApproval(ctx, challenge.ID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read approval: %w", err)
	}
	return approval.ApprovedAt.Before(challenge.ExpiresAt), nil
}
