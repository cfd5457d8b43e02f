package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultStrengthTableIsValid(t *testing.T) {
	assert.NoError(t, DefaultStrengthTable().Validate())
}

func TestLowerSkillNeverSearchesDeeper(t *testing.T) {
	table := DefaultStrengthTable()

	prev := 0
	for skill := MinSkillLevel; skill <= MaxSkillLevel; skill++ {
		depth := table.Settings(SkillLevel(skill)).Depth
		assert.GreaterOrEqual(t, depth, prev, "skill %d", skill)
		prev = depth
	}

	// different tiers are strictly ordered
	assert.Less(t, table.Settings(SkillLevel(0)).Depth, table.Settings(SkillLevel(5)).Depth)
	assert.Less(t, table.Settings(SkillLevel(19)).Depth, table.Settings(SkillLevel(20)).Depth)

	lowElo := table.Settings(TargetElo(1350)).Depth
	highElo := table.Settings(TargetElo(2500)).Depth
	assert.Less(t, lowElo, highElo)
}

func TestSkillSettings(t *testing.T) {
	table := DefaultStrengthTable()

	s := table.Settings(SkillLevel(-4))
	assert.Equal(t, Settings{
		Options: []Option{
			{Name: "UCI_LimitStrength", Value: "false"},
			{Name: "Skill Level", Value: "0"},
		},
		Depth: 1,
	}, s)

	assert.Equal(t, 18, table.Settings(SkillLevel(42)).Depth)
}

func TestEloSettings(t *testing.T) {
	table := DefaultStrengthTable()

	assert.Equal(t, Settings{
		Options: []Option{
			{Name: "UCI_LimitStrength", Value: "true"},
			{Name: "UCI_Elo", Value: "1320"},
		},
		Depth: 1,
	}, table.Settings(TargetElo(800)))

	top := table.Settings(TargetElo(3000))
	assert.Equal(t, 18, top.Depth)
	assert.Contains(t, top.Options, Option{Name: "UCI_LimitStrength", Value: "false"})

	assert.Equal(t, top, table.Settings(Strength{}))
}

func TestParseStrengthTable(t *testing.T) {
	table, err := ParseStrengthTable([]byte(`
elo_floor: 1000
elo_ceiling: 3000
tiers:
  - {max_skill: 10, max_elo: 1800, depth: 4}
  - {max_skill: 20, max_elo: 3000, depth: 12}
`))
	require.NoError(t, err)
	assert.Len(t, table.Tiers, 2)
	assert.Equal(t, 4, table.Settings(SkillLevel(10)).Depth)
	assert.Equal(t, 12, table.Settings(SkillLevel(11)).Depth)

	_, err = ParseStrengthTable([]byte(`
elo_floor: 1000
elo_ceiling: 3000
tiers:
  - {max_skill: 10, max_elo: 1800, depth: 8}
  - {max_skill: 20, max_elo: 3000, depth: 8}
`))
	assert.Error(t, err)

	_, err = ParseStrengthTable([]byte(`
elo_floor: 1000
elo_ceiling: 3000
tiers:
  - {max_skill: 15, max_elo: 1800, depth: 8}
`))
	assert.Error(t, err)

	_, err = ParseStrengthTable([]byte("tiers: ["))
	assert.Error(t, err)
}

func TestLoadStrengthTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strength.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
elo_floor: 1320
elo_ceiling: 3190
tiers:
  - {max_skill: 20, max_elo: 3190, depth: 10}
`), 0o600))

	table, err := LoadStrengthTable(path)
	require.NoError(t, err)
	assert.Equal(t, 10, table.Settings(SkillLevel(3)).Depth)

	_, err = LoadStrengthTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
