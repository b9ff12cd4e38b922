package tariff

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/cellrent/internal/model"
)

func TestFlat_ExtensionDays(t *testing.T) {
	tr, err := NewFlat(30, 300000)
	require.NoError(t, err)

	tests := []struct {
		name    string
		amount  int64
		days    int
		wantErr bool
	}{
		{name: "full period", amount: 300000, days: 30},
		{name: "two periods", amount: 600000, days: 60},
		{name: "prorated", amount: 150000, days: 15},
		{name: "rounds down", amount: 10999, days: 1},
		{name: "less than a day", amount: 9999, wantErr: true},
		{name: "zero", amount: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			days, err := tr.ExtensionDays(tt.amount)
			if tt.wantErr {
				var vErr *model.ValidationError
				require.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.days, days)
		})
	}
}

func TestNewFlat_RejectsNonPositive(t *testing.T) {
	_, err := NewFlat(0, 100)
	assert.Error(t, err)

	_, err = NewFlat(30, 0)
	assert.Error(t, err)
}
