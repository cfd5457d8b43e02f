package engine

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	MinSkillLevel = 0
	MaxSkillLevel = 20
)

// Strength is what a caller asks for: a skill level or a target rating.
// The zero value asks for full strength.
type Strength struct {
	Skill *int
	Elo   int
}

// SkillLevel asks for an engine skill level in [0, 20]
func SkillLevel(level int) Strength {
	return Strength{Skill: &level}
}

// TargetElo asks for a rating-limited engine
func TargetElo(elo int) Strength {
	return Strength{Elo: elo}
}

// Tier is one row of the strength table. A skill level or rating belongs to
// the first tier whose bound it does not exceed.
type Tier struct {
	MaxSkill int `yaml:"max_skill"`
	MaxElo   int `yaml:"max_elo"`
	Depth    int `yaml:"depth"`
}

// StrengthTable maps caller strength to engine options and a depth bound.
// The last tier is unrestricted.
type StrengthTable struct {
	EloFloor   int    `yaml:"elo_floor"`
	EloCeiling int    `yaml:"elo_ceiling"`
	Tiers      []Tier `yaml:"tiers"`
}

// Option is one "setoption" line
type Option struct {
	Name  string
	Value string
}

// Settings is what a request is dispatched with
type Settings struct {
	Options []Option
	Depth   int
}

// DefaultStrengthTable is used when no table file is configured
func DefaultStrengthTable() StrengthTable {
	return StrengthTable{
		EloFloor:   1320,
		EloCeiling: 3190,
		Tiers: []Tier{
			{MaxSkill: 3, MaxElo: 1400, Depth: 1},
			{MaxSkill: 7, MaxElo: 1700, Depth: 3},
			{MaxSkill: 11, MaxElo: 2000, Depth: 6},
			{MaxSkill: 15, MaxElo: 2400, Depth: 10},
			{MaxSkill: 19, MaxElo: 2800, Depth: 14},
			{MaxSkill: 20, MaxElo: 3190, Depth: 18},
		},
	}
}

// LoadStrengthTable reads and validates a YAML strength table
func LoadStrengthTable(path string) (StrengthTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StrengthTable{}, fmt.Errorf("read strength table: %w", err)
	}

	return ParseStrengthTable(data)
}

// ParseStrengthTable decodes and validates a YAML strength table
func ParseStrengthTable(data []byte) (StrengthTable, error) {
	var table StrengthTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return StrengthTable{}, fmt.Errorf("decode strength table: %w", err)
	}

	if err := table.Validate(); err != nil {
		return StrengthTable{}, err
	}

	return table, nil
}

// Validate checks that stronger tiers always search strictly deeper
func (t StrengthTable) Validate() error {
	if len(t.Tiers) == 0 {
		return errors.New("strength table has no tiers")
	}

	if t.EloFloor <= 0 || t.EloCeiling <= t.EloFloor {
		return fmt.Errorf("strength table: invalid rating range [%d, %d]", t.EloFloor, t.EloCeiling)
	}

	for i, tier := range t.Tiers {
		if tier.Depth <= 0 {
			return fmt.Errorf("strength table: tier %d has non-positive depth", i)
		}

		if i == 0 {
			continue
		}

		prev := t.Tiers[i-1]
		if tier.MaxSkill <= prev.MaxSkill || tier.MaxElo <= prev.MaxElo || tier.Depth <= prev.Depth {
			return fmt.Errorf("strength table: tier %d is not strictly stronger than tier %d", i, i-1)
		}
	}

	if last := t.Tiers[len(t.Tiers)-1]; last.MaxSkill < MaxSkillLevel {
		return fmt.Errorf("strength table: top tier must cover skill level %d", MaxSkillLevel)
	}

	return nil
}

// Settings translates a caller strength into engine options and a depth bound
func (t StrengthTable) Settings(s Strength) Settings {
	top := len(t.Tiers) - 1

	switch {
	case s.Skill != nil:
		skill := clamp(*s.Skill, MinSkillLevel, MaxSkillLevel)
		i := t.tierFor(func(tier Tier) bool { return skill <= tier.MaxSkill })

		return Settings{
			Options: []Option{
				{Name: "UCI_LimitStrength", Value: "false"},
				{Name: "Skill Level", Value: strconv.Itoa(skill)},
			},
			Depth: t.Tiers[i].Depth,
		}

	case s.Elo > 0:
		i := t.tierFor(func(tier Tier) bool { return s.Elo <= tier.MaxElo })
		if i == top {
			return t.unrestricted()
		}

		return Settings{
			Options: []Option{
				{Name: "UCI_LimitStrength", Value: "true"},
				{Name: "UCI_Elo", Value: strconv.Itoa(clamp(s.Elo, t.EloFloor, t.EloCeiling))},
			},
			Depth: t.Tiers[i].Depth,
		}

	default:
		return t.unrestricted()
	}
}

func (t StrengthTable) unrestricted() Settings {
	return Settings{
		Options: []Option{
			{Name: "UCI_LimitStrength", Value: "false"},
			{Name: "Skill Level", Value: strconv.Itoa(MaxSkillLevel)},
		},
		Depth: t.Tiers[len(t.Tiers)-1].Depth,
	}
}

func (t StrengthTable) tierFor(fits func(Tier) bool) int {
	for i, tier := range t.Tiers {
		if fits(tier) {
			return i
		}
	}

	return len(t.Tiers) - 1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
