package testutils

import (
	"bytes"
	"encoding/json"
	"os"
	"path"
	"testing"

	"github.com/pmezard/go-difflib/difflib"
)

// CheckGoldenFile compares actual with the content of expectFilePath.
// The file is created from actual when it does not exist yet.
// JSON documents are compared after re-indenting both sides.
func CheckGoldenFile(t testing.TB, actual []byte, expectFilePath string) {
	t.Helper()

	expectFileDir := path.Dir(expectFilePath)

	actual = normalize(actual)

	expect, err := os.ReadFile(expectFilePath)
	if os.IsNotExist(err) {
		err = os.MkdirAll(expectFileDir, 0755)
		if err != nil {
			t.Fatal(err)
		}
		err = os.WriteFile(expectFilePath, actual, 0444)
		if err != nil {
			t.Fatal(err)
		}
		return
	} else if err != nil {
		t.Error(err)
		return
	}
	expect = normalize(expect)

	if !bytes.Equal(expect, actual) {
		diff := difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(expect)),
			B:        difflib.SplitLines(string(actual)),
			FromFile: expectFilePath,
			ToFile:   "actual",
			Context:  5,
		}
		d, err := difflib.GetUnifiedDiffString(diff)
		if err != nil {
			t.Fatal(err)
		}
		t.Error(d)
	}
}

func normalize(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if !json.Valid(b) {
		return append(b, '\n')
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return append(b, '\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
