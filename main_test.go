package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dbsentry/pgauditor/pkg/config"
	"github.com/dbsentry/pgauditor/pkg/models"
)

func TestParseRiskFilter(t *testing.T) {
	levels, err := parseRiskFilter("high,medium")
	require.NoError(t, err)
	assert.Equal(t, []models.RiskLevel{models.RiskHigh, models.RiskMedium}, levels)

	levels, err = parseRiskFilter("all")
	require.NoError(t, err)
	assert.Nil(t, levels)

	levels, err = parseRiskFilter("high,ALL")
	require.NoError(t, err)
	assert.Nil(t, levels)

	levels, err = parseRiskFilter("")
	require.NoError(t, err)
	assert.Nil(t, levels)

	_, err = parseRiskFilter("catastrophic")
	require.Error(t, err)
}

func TestRun_RejectsUnknownBackupKind(t *testing.T) {
	err := run(context.Background(), &config.Config{}, zap.NewNop(), runOptions{
		mode:       "backup",
		backupKind: models.BackupKind("incremental"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backup kind")
}
