package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tcases := []struct {
		name     string
		level    string
		expected zerolog.Level
		err      bool
	}{
		{name: "debug", level: "debug", expected: zerolog.DebugLevel},
		{name: "upper case", level: "WARN", expected: zerolog.WarnLevel},
		{name: "empty defaults to info", level: "", expected: zerolog.InfoLevel},
		{name: "invalid", level: "loud", err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			logger, err := New(&bytes.Buffer{}, tc.level, false)
			if tc.err {
				assert.Error(t, err, "expected error for level %q", tc.level)
				return
			}
			assert.NoError(t, err, "expected no error for level %q", tc.level)
			assert.Equal(t, tc.expected, logger.GetLevel(), "expected logger level to match")
		})
	}
}

func TestNewWritesJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(buf, "info", false)
	assert.NoError(t, err)

	logger.Info().Str("room_id", "r1").Msg("hello")
	assert.Contains(t, buf.String(), `"room_id":"r1"`, "expected structured field in output")
	assert.Contains(t, buf.String(), `"app":"go-chat"`, "expected app field in output")
}
