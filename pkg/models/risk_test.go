package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskLevelOrdering(t *testing.T) {
	assert.True(t, RiskHigh.AtLeast(RiskMedium))
	assert.True(t, RiskMedium.AtLeast(RiskMedium))
	assert.False(t, RiskLow.AtLeast(RiskMedium))
	assert.False(t, RiskSafe.AtLeast(RiskLow))
}

func TestParseRiskLevel(t *testing.T) {
	for _, level := range AllRiskLevels {
		parsed, err := ParseRiskLevel(level.String())
		require.NoError(t, err)
		assert.Equal(t, level, parsed)
	}

	parsed, err := ParseRiskLevel("  HIGH ")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, parsed)

	_, err = ParseRiskLevel("critical")
	assert.Error(t, err)
}

func TestRiskLevelJSON(t *testing.T) {
	data, err := json.Marshal(RiskHigh)
	require.NoError(t, err)
	assert.Equal(t, `"high"`, string(data))

	var level RiskLevel
	require.NoError(t, json.Unmarshal([]byte(`"medium"`), &level))
	assert.Equal(t, RiskMedium, level)

	assert.Error(t, json.Unmarshal([]byte(`"urgent"`), &level))
}
