package migrate

import (
	"strings"
	"testing"
)

func TestFilesOrderedAndEmbedded(t *testing.T) {
	files, err := Files()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 || files[0] != "001_init.sql" {
		t.Fatalf("Files = %v", files)
	}
	b, err := fs.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"agent_sessions", "attempts"} {
		if !strings.Contains(string(b), table) {
			t.Errorf("%s does not create %s", files[0], table)
		}
	}
}
