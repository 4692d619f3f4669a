package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFilter(t *testing.T) {
	consoleInfo := "2026-01-02T10:00:00.000Z\tINFO\tserver/routes.go:40\tPreview generated"
	consoleWarn := "2026-01-02T10:00:01.000Z\tWARN\twatchers/manager.go:88\tSkipping watch entry"
	jsonWarn := `{"level":"warn","timestamp":"2026-01-02T10:00:02.000Z","msg":"Subscriber buffer full"}`

	tests := []struct {
		name  string
		level string
		line  string
		want  bool
	}{
		{"empty level keeps everything", "", consoleInfo, true},
		{"console match", "info", consoleInfo, true},
		{"console mismatch", "warn", consoleInfo, false},
		{"console warn", "WARN", consoleWarn, true},
		{"json match", "warn", jsonWarn, true},
		{"json mismatch", "error", jsonWarn, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, levelFilter(tt.level)(tt.line))
		})
	}
}

func TestLastLines(t *testing.T) {
	input := strings.Join([]string{"a\tINFO\t1", "b\tWARN\t2", "c\tINFO\t3", "d\tINFO\t4", "e\tWARN\t5"}, "\n")

	lines, err := lastLines(strings.NewReader(input), 2, levelFilter(""))
	require.NoError(t, err)
	assert.Equal(t, []string{"d\tINFO\t4", "e\tWARN\t5"}, lines)

	lines, err = lastLines(strings.NewReader(input), 10, levelFilter("warn"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b\tWARN\t2", "e\tWARN\t5"}, lines)

	lines, err = lastLines(strings.NewReader(""), 5, levelFilter(""))
	require.NoError(t, err)
	assert.Empty(t, lines)
}
