package decree

import (
	"bytes"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// describeContentChange renders what changed between old and new file
// content for a decree summary: a unified diff for UTF-8 text, or a short
// note for binary/non-UTF-8 content where a diff would be unreadable noise.
func describeContentChange(target string, old, new []byte, oldModTime time.Time, creating bool) string {
	if bytes.IndexByte(old, 0) >= 0 || bytes.IndexByte(new, 0) >= 0 {
		return "binary files differ"
	}
	if !utf8.Valid(old) || !utf8.Valid(new) {
		return "non-UTF-8 files differ"
	}

	fromDate := ""
	if !creating {
		fromDate = oldModTime.UTC().Format(time.RFC3339Nano)
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(old)),
		B:        difflib.SplitLines(string(new)),
		FromFile: target,
		ToFile:   target,
		FromDate: fromDate,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Sprintf("diff unavailable: %s", err)
	}
	if text == "" {
		return "empty file"
	}
	return text
}
