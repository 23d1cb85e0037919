package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// MembershipRepository answers whether a user belongs to a community. It is
// a read-only view over membership rows owned by the main application.
type MembershipRepository interface {
	IsMember(ctx context.Context, communityID int, userID int) (bool, error)
}

// MembershipRepo is a sqlx implementation of MembershipRepository.
type MembershipRepo struct {
	db *sqlx.DB
}

// NewMembershipRepo constructs a MembershipRepo.
func NewMembershipRepo(db *sqlx.DB) *MembershipRepo {
	return &MembershipRepo{db: db}
}

// IsMember checks membership.
func (r *MembershipRepo) IsMember(ctx context.Context, communityID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM community_members WHERE community_id=$1 AND user_id=$2)`, communityID, userID)
	return exists, err
}
