// # internal/rewrite/logcapture_test.go
package rewrite

import (
	"strings"
	"testing"

	"molt/internal/degrade"
	"molt/internal/ledger"
)

func TestLogCaptureWithForm(t *testing.T) {
	src := `class TestLog(unittest.TestCase):
    def test_logs(self):
        with self.assertLogs('app', level='INFO') as cm:
            run()
        self.assertIn('started', cm.output)
`
	out, entries := runStage(t, LogCaptureStage{}, degrade.TierAdvanced, src)
	wantLine(t, out, "with caplog.at_level(logging.INFO, logger='app'):")
	wantLine(t, out, "def test_logs(self, caplog):")
	wantLine(t, out, "caplog.messages")
	if strings.Contains(out, "cm.output") {
		t.Errorf("alias access not redirected:\n%s", out)
	}
	if len(entries) != 1 || entries[0].Outcome != ledger.OutcomeApplied {
		t.Errorf("expected one applied entry, got %+v", entries)
	}
}

func TestLogCaptureDefaultLevelAndRecords(t *testing.T) {
	src := `class TestLog(unittest.TestCase):
    def test_logs(self):
        with self.assertLogs() as cm:
            run()
        self.assertEqual(len(cm.records), 2)
`
	out, _ := runStage(t, LogCaptureStage{}, degrade.TierAdvanced, src)
	wantLine(t, out, "with caplog.at_level(logging.INFO):")
	wantLine(t, out, "caplog.records")
}

func TestLogCaptureLevelConstantCarriedVerbatim(t *testing.T) {
	src := `class TestLog(unittest.TestCase):
    def test_logs(self):
        with self.assertLogs('app', level=logging.DEBUG):
            run()
`
	out, _ := runStage(t, LogCaptureStage{}, degrade.TierAdvanced, src)
	wantLine(t, out, "with caplog.at_level(logging.DEBUG, logger='app'):")
}

func TestLogCaptureUnsupportedAliasUseSkipped(t *testing.T) {
	src := `class TestLog(unittest.TestCase):
    def test_logs(self):
        with self.assertLogs('app') as cm:
            run()
        inspect(cm)
`
	out, entries := runStage(t, LogCaptureStage{}, degrade.TierAdvanced, src)
	if out != src {
		t.Errorf("alias escaping the accessor set must block the rewrite:\n%s", out)
	}
	wantOutcome(t, entries, ledger.OutcomeSkipped, "bare reference")
}

func TestLogCaptureAssignmentAlias(t *testing.T) {
	src := `class TestLog(unittest.TestCase):
    def test_logs(self):
        ctx = self.assertLogs('app', level='WARNING')
        with ctx:
            run()
`
	out, _ := runStage(t, LogCaptureStage{}, degrade.TierAdvanced, src)
	wantLine(t, out, "ctx = caplog.at_level(logging.WARNING, logger='app')")
	wantLine(t, out, "def test_logs(self, caplog):")
}

func TestLogCaptureAttributeAliasSkipped(t *testing.T) {
	src := `class TestLog(unittest.TestCase):
    def test_logs(self):
        self.watcher = self.assertLogs('app')
`
	out, entries := runStage(t, LogCaptureStage{}, degrade.TierAdvanced, src)
	if out != src {
		t.Errorf("attribute-held alias must not be rewritten:\n%s", out)
	}
	wantOutcome(t, entries, ledger.OutcomeSkipped, "attribute")
}
