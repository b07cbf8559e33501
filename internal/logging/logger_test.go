package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/rcliao/rfp-agent-memory/internal/logging"
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

func TestNewLevels(t *testing.T) {
	testCases := []struct {
		level       string
		expectDebug bool
		expectWarn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"WARN", false, true},
		{"error", false, false},
		{"bogus", false, true},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := logging.New(tc.level, "console", buf)
			logger.Debug("debug message")
			logger.Warn("warn message")

			if tc.expectDebug {
				gt.S(t, buf.String()).Contains("debug message")
			} else {
				gt.S(t, buf.String()).NotContains("debug message")
			}
			if tc.expectWarn {
				gt.S(t, buf.String()).Contains("warn message")
			} else {
				gt.S(t, buf.String()).NotContains("warn message")
			}
		})
	}
}

func TestJSONRedactsProvenanceUsers(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("info", "json", buf)

	logger.Info("stored", slog.Any("provenance", model.Provenance{
		CognitoUserID: "cognito-abc-123",
		SlackUserID:   "U0SECRET",
		Source:        "slack_operator",
	}))

	gt.S(t, buf.String()).NotContains("cognito-abc-123")
	gt.S(t, buf.String()).NotContains("U0SECRET")
	gt.S(t, buf.String()).Contains("slack_operator")
}

func TestWithAndFrom(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("debug", "console", buf)

	ctx := logging.With(context.Background(), logger)
	logging.From(ctx).Info("from context")
	gt.S(t, buf.String()).Contains("from context")

	gt.Value(t, logging.From(context.Background())).Equal(logging.Default())
}
