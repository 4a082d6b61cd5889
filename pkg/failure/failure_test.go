package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: ExitSuccess},
		{name: "config", err: Configf("parameter %s is missing", "host"), want: ExitUser},
		{name: "wrapped key mismatch", err: fmt.Errorf("table t: %w", KeyMismatch([]string{"code"}, []string{"id"})), want: ExitUser},
		{name: "statement", err: Statement("SELECT 1", errors.New("boom")), want: ExitUser},
		{name: "internal", err: Internal(errors.New("nil pointer"), "unexpected"), want: ExitInternal},
		{name: "plain error", err: errors.New("plain"), want: ExitInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestKeyMismatchNamesBothSets(t *testing.T) {
	err := KeyMismatch([]string{"code"}, []string{"id"})

	assert.Equal(t, KindKeyMismatch, KindOf(err))
	assert.Contains(t, err.Error(), "Keys in configuration: code")
	assert.Contains(t, err.Error(), "Keys in DB table: id")
}

func TestStatementKeepsQuery(t *testing.T) {
	cause := errors.New("Table 'db.missing' doesn't exist")
	err := fmt.Errorf("load: %w", Statement("SELECT * FROM `missing`", cause))

	var fe *Error
	if assert.True(t, errors.As(err, &fe)) {
		assert.Equal(t, "SELECT * FROM `missing`", fe.Query)
		assert.Equal(t, "Query failed: Table 'db.missing' doesn't exist", fe.Error())
	}
	assert.ErrorIs(t, err, cause)
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("x")))
	assert.Equal(t, "connectivity", KindOf(Connectivity(errors.New("refused"), "dial")).String())
}
