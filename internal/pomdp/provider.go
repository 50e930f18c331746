package pomdp

import (
	"context"
	"log"
	"sync"
)

// Provider hands out policies for the current average worker skill,
// consulting an in-memory map, then the disk cache, and only then the
// solver. Re-solving on every vote is disallowed: a solve only happens when
// the skill crosses into a bucket with no cached policy.
type Provider struct {
	cache  *FileCache
	solver SolverConfig

	numBins         int
	rewardRequest   float64
	rewardCorrect   float64
	rewardIncorrect float64

	mu     sync.Mutex
	loaded map[CacheKey]*Policy
}

func NewProvider(cache *FileCache, numBins int, rewardRequest, rewardCorrect, rewardIncorrect float64, solver SolverConfig) *Provider {
	return &Provider{
		cache:           cache,
		solver:          solver,
		numBins:         numBins,
		rewardRequest:   rewardRequest,
		rewardCorrect:   rewardCorrect,
		rewardIncorrect: rewardIncorrect,
		loaded:          make(map[CacheKey]*Policy),
	}
}

// Policy returns the policy for the given average skill, solving and caching
// on miss. The lock serializes solves so concurrent requests for the same
// bucket do not duplicate minutes of work.
func (p *Provider) Policy(ctx context.Context, averageSkill float64) (*Policy, error) {
	key := NewCacheKey(averageSkill, p.rewardIncorrect, p.solver.Discount)

	p.mu.Lock()
	defer p.mu.Unlock()

	if policy, ok := p.loaded[key]; ok {
		return policy, nil
	}
	if policy, ok, err := p.cache.Get(key); err != nil {
		return nil, err
	} else if ok {
		p.loaded[key] = policy
		return policy, nil
	}

	log.Printf("Solving policy for skill bucket %d (penalty %d)", key.SkillBucket, key.Penalty)
	model := NewModel(p.numBins, key.Skill(), p.rewardRequest, p.rewardCorrect, p.rewardIncorrect)
	policy, err := Solve(ctx, model, p.solver)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Put(key, policy); err != nil {
		log.Printf("Warning: failed to cache policy %s: %v", key.Filename(), err)
	}
	p.loaded[key] = policy
	return policy, nil
}
