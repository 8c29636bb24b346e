// Package referral walks the sponsor graph induced by User.ReferredBy.
//
// Both walks carry a visited set, so a corrupted graph that contains a cycle ends
// the walk instead of looping. Soft-deleted users are traversed so that people
// below or above them stay connected, but they are never reported as members.
package referral

import (
	"context" // Context propagation
	"errors"  // Error inspection
	"sort"    // Ordering members

	"mlm_ledger/internal/domain" // Importing domain models

	"gorm.io/gorm"        // GORM ORM library
	"gorm.io/gorm/clause" // Row locks and upserts
)

var (
	ErrUnknownSponsor = errors.New("referral code does not match any user")
	ErrCycle          = errors.New("sponsor change would create a referral cycle")
	ErrSelfSponsor    = errors.New("user cannot sponsor themselves")
)

// Member is a downline user and their distance from the root
type Member struct {
	User  domain.User `json:"user"`
	Level int         `json:"level"`
}

// Downline returns everyone the root sponsored, directly or indirectly, up to maxLevel.
// The result is not ordered; see SortByJoinDesc.
func Downline(ctx context.Context, db *gorm.DB, root *domain.User, maxLevel int) ([]Member, error) {
	visited := map[uint]bool{root.ID: true}
	var out []Member
	err := expand(db.WithContext(ctx), 1, maxLevel, []string{root.ReferralCode}, visited, &out)
	return out, err
}

func expand(db *gorm.DB, level, maxLevel int, codes []string, visited map[uint]bool, out *[]Member) error {
	if level > maxLevel || len(codes) == 0 {
		return nil
	}
	var users []domain.User
	if err := db.Unscoped().Where("referred_by IN ?", codes).Order("id asc").Find(&users).Error; err != nil {
		return err
	}
	var next []string
	for _, u := range users {
		if visited[u.ID] {
			continue
		}
		visited[u.ID] = true
		next = append(next, u.ReferralCode)
		if !u.DeletedAt.Valid {
			*out = append(*out, Member{User: u, Level: level})
		}
	}
	return expand(db, level+1, maxLevel, next, visited, out)
}

// SortByJoinDesc orders members newest first
func SortByJoinDesc(members []Member) {
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].User.CreatedAt.Equal(members[j].User.CreatedAt) {
			return members[i].User.ID > members[j].User.ID
		}
		return members[i].User.CreatedAt.After(members[j].User.CreatedAt)
	})
}

// LevelCounts counts members per level, index 0 is level 1
func LevelCounts(members []Member, maxLevel int) []int {
	counts := make([]int, maxLevel)
	for _, m := range members {
		if m.Level >= 1 && m.Level <= maxLevel {
			counts[m.Level-1]++
		}
	}
	return counts
}

// Ancestor is an upline user at a given hop from the starting user
type Ancestor struct {
	User domain.User `json:"user"`
	Hop  int         `json:"hop"`
}

// Chain is the result of an upline walk
type Chain struct {
	Ancestors []Ancestor
	// BrokenAt is the hop whose sponsor code resolved to no user, 0 if none
	BrokenAt   int
	BrokenCode string
	// Cycle is set when the walk reached a user it had already visited
	Cycle bool
}

// Upline follows ReferredBy from start for at most maxHops. With lock set every
// ancestor row is read FOR UPDATE.
func Upline(ctx context.Context, db *gorm.DB, start *domain.User, maxHops int, lock bool) (Chain, error) {
	var chain Chain
	visited := map[uint]bool{start.ID: true}
	code := start.ReferredBy
	for hop := 1; hop <= maxHops; hop++ {
		if code == nil || *code == "" {
			break
		}
		q := db.WithContext(ctx).Unscoped()
		if lock {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var u domain.User
		err := q.Where("referral_code = ?", *code).First(&u).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			chain.BrokenAt = hop
			chain.BrokenCode = *code
			break
		}
		if err != nil {
			return chain, err
		}
		if visited[u.ID] {
			chain.Cycle = true
			break
		}
		visited[u.ID] = true
		chain.Ancestors = append(chain.Ancestors, Ancestor{User: u, Hop: hop})
		code = u.ReferredBy
	}
	return chain, nil
}

// ResolveSponsor finds the live user owning a referral code
func ResolveSponsor(ctx context.Context, db *gorm.DB, code string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).Where("referral_code = ?", code).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownSponsor
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ChangeSponsor re-parents a user, refusing any change that would close a cycle
func ChangeSponsor(ctx context.Context, db *gorm.DB, userID uint, code string) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, userID).Error; err != nil {
			return err
		}
		if code == "" {
			user.ReferredBy = nil
			return tx.Model(&user).Update("referred_by", nil).Error
		}
		if code == user.ReferralCode {
			return ErrSelfSponsor
		}
		sponsor, err := ResolveSponsor(ctx, tx, code)
		if err != nil {
			return err
		}
		// Walk the new sponsor's whole upline; meeting the user means a cycle
		seen := map[uint]bool{}
		for cur := sponsor; cur != nil; {
			if cur.ID == user.ID {
				return ErrCycle
			}
			if seen[cur.ID] || cur.ReferredBy == nil {
				break
			}
			seen[cur.ID] = true
			var parent domain.User
			err := tx.Unscoped().Where("referral_code = ?", *cur.ReferredBy).First(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				break
			}
			if err != nil {
				return err
			}
			cur = &parent
		}
		user.ReferredBy = &code
		return tx.Model(&user).Update("referred_by", code).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}
