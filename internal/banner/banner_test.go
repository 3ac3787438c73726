package banner

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintIncludesVersion(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, "1.2.3", true)
	if !strings.Contains(buf.String(), "1.2.3") {
		t.Fatalf("expected version in banner output, got: %s", buf.String())
	}
}

func TestPrintNoColorStripsEscapes(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, "dev", true)
	if strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected no ANSI escapes with noColor, got: %q", buf.String())
	}
}
