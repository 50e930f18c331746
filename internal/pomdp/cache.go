package pomdp

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// CacheKey identifies a solved policy by the parameters that shaped it.
// The key is structured integers rather than formatted floats so filenames
// never depend on locale or printf quirks.
type CacheKey struct {
	// SkillBucket is the average worker gamma rounded to the nearest 0.1,
	// stored as tenths (1.23 -> 12).
	SkillBucket int
	// Penalty is the (negative) reward for an incorrect submit.
	Penalty int
	// DiscountBasis is the solver discount in basis points (0.99 -> 9900).
	DiscountBasis int
}

// NewCacheKey buckets the solve parameters. Policies are reusable for any
// belief over the same discretization and the same bucketed parameters.
func NewCacheKey(averageSkill, rewardIncorrect, discount float64) CacheKey {
	return CacheKey{
		SkillBucket:   int(math.Round(averageSkill * 10)),
		Penalty:       int(math.Round(rewardIncorrect)),
		DiscountBasis: int(math.Round(discount * 10000)),
	}
}

// Skill returns the bucketed gamma the key represents. Models are built
// from this value so the cached policy matches its key exactly.
func (k CacheKey) Skill() float64 { return float64(k.SkillBucket) / 10 }

// Filename follows the reference naming scheme (dai_<skill>_<penalty>) with
// the discount appended.
func (k CacheKey) Filename() string {
	return fmt.Sprintf("dai_g%d_p%d_d%d.policy.json", k.SkillBucket, k.Penalty, k.DiscountBasis)
}

// FileCache persists solved policies under a directory, one JSON file per
// key. Writes go through a temp file and rename so readers never observe a
// partially written policy.
type FileCache struct {
	dir string
}

func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create policy dir: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

// Has reports whether a policy exists for the key.
func (c *FileCache) Has(key CacheKey) bool {
	_, err := os.Stat(filepath.Join(c.dir, key.Filename()))
	return err == nil
}

// Get loads the policy for the key. The second return is false on a miss.
func (c *FileCache) Get(key CacheKey) (*Policy, bool, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, key.Filename()))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read policy: %w", err)
	}
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("decode policy %s: %w", key.Filename(), err)
	}
	return &p, true, nil
}

// Put writes the policy atomically.
func (c *FileCache) Put(key CacheKey, p *Policy) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, key.Filename()+".tmp")
	if err != nil {
		return fmt.Errorf("create temp policy: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write policy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close policy: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, key.Filename())); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename policy: %w", err)
	}
	return nil
}
