package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommonFilterValidate(t *testing.T) {
	allowed := []string{"action", "created_at"}
	tests := []struct {
		name    string
		filter  CommonFilter
		wantErr bool
	}{
		{"eq ok", CommonFilter{Field: "action", Operator: CommonFilterOperatorEq, Values: []any{"x"}}, false},
		{"unknown field", CommonFilter{Field: "1=1; drop table", Operator: CommonFilterOperatorEq, Values: []any{"x"}}, true},
		{"range needs two", CommonFilter{Field: "created_at", Operator: CommonFilterOperatorRange, Values: []any{"2025-01-01"}}, true},
		{"missing value", CommonFilter{Field: "action", Operator: CommonFilterOperatorIn}, true},
		{"bad operator", CommonFilter{Field: "action", Operator: "regex", Values: []any{"x"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate(allowed)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestScanRequestNormalize(t *testing.T) {
	r := &ScanRequest{From: -3, Size: 5000, SortBy: "password", SortOrder: "ASC"}
	require.NoError(t, r.Normalize([]string{"created_at"}, "created_at"))
	require.Equal(t, 0, r.From)
	require.Equal(t, 50, r.Size)
	require.Equal(t, "created_at", r.SortBy)
	require.False(t, r.OrderBy().Desc)

	r = &ScanRequest{Size: 10}
	require.NoError(t, r.Normalize([]string{"created_at"}, "created_at"))
	require.True(t, r.OrderBy().Desc)
	require.Equal(t, 10, r.Size)
}

func TestMemberRoleRank(t *testing.T) {
	require.Greater(t, MemberRoleAdmin.Rank(), MemberRoleEditor.Rank())
	require.Greater(t, MemberRoleEditor.Rank(), MemberRoleViewer.Rank())
	require.Equal(t, MemberRoleViewer.Rank(), MemberRoleMember.Rank())
	require.False(t, MemberRole("owner").Valid())
}
