package db

import (
	"errors"

	"coverpool/internal/domain/claims"

	"gorm.io/gorm"
)

// PolicyRepo serves coverage policies from postgres. Policies are written
// by the (out of scope) policy administration surface; this core only
// reads them.
type PolicyRepo struct {
	db *gorm.DB
}

func NewPolicyRepo(db *gorm.DB) *PolicyRepo {
	return &PolicyRepo{db: db}
}

func (r *PolicyRepo) Get(policyRef string) (claims.Policy, error) {
	if r == nil || r.db == nil {
		return claims.Policy{}, errDBUnavailable
	}
	var model PolicyModel
	err := r.db.First(&model, "ref = ?", policyRef).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return claims.Policy{}, claims.ErrInvalidPolicy
		}
		return claims.Policy{}, err
	}
	return claims.Policy{
		Ref:      model.Ref,
		Claimant: model.Claimant,
		Asset:    claims.Asset(model.Asset),
		Coverage: model.Coverage,
		Active:   model.Active,
	}, nil
}
