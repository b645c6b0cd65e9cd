package hooks

import (
	"bytes"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestContextHookAddsCallSite(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New()
	logger.Out = &buf
	logger.Formatter = &log.TextFormatter{DisableTimestamp: true}
	logger.AddHook(NewContextHook())

	logger.WithField("group", "ads").Info("dispatching")

	out := buf.String()
	if !strings.Contains(out, "file:line") || !strings.Contains(out, "context_hook_test.go:") {
		t.Fatalf("expected the test's call site in the entry, got %q", out)
	}
}
