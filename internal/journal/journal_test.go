package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tinytelemetry/harmonic/internal/model"
)

func openTestJournal(t *testing.T, path string) *Journal {
	t.Helper()
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func replayTypes(t *testing.T, j *Journal) []string {
	t.Helper()
	var types []string
	skipped, err := j.Replay(func(_ uint64, msg model.Message) error {
		types = append(types, msg.Type)
		return nil
	})
	if err != nil || skipped != 0 {
		t.Fatalf("Replay = %d skipped, %v; want 0, nil", skipped, err)
	}
	return types
}

func TestAppendReplayCommit(t *testing.T) {
	j := openTestJournal(t, filepath.Join(t.TempDir(), "ingest.journal"))

	seq1, err := j.Append(model.NewMessage(model.Person{PersonID: 1, Name: "Ada"}))
	if err != nil {
		t.Fatalf("Append person: %v", err)
	}
	seq2, err := j.Append(model.NewMessage(model.Company{CompanyID: 2, CompanyName: "Acme"}))
	if err != nil {
		t.Fatalf("Append company: %v", err)
	}
	if seq2 <= seq1 {
		t.Fatalf("sequence did not advance: seq1=%d seq2=%d", seq1, seq2)
	}

	if err := j.Commit(seq1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if j.Committed() != seq1 {
		t.Fatalf("Committed = %d, want %d", j.Committed(), seq1)
	}

	got := replayTypes(t, j)
	if len(got) != 1 || got[0] != model.TypeCompany {
		t.Fatalf("Replay = %v, want [Company]", got)
	}
}

func TestAppendRejectsMismatchedMessage(t *testing.T) {
	j := openTestJournal(t, filepath.Join(t.TempDir(), "ingest.journal"))

	bad := model.Message{Type: model.TypeCompany, Data: model.Person{PersonID: 1}}
	if _, err := j.Append(bad); err == nil {
		t.Fatal("expected error for mismatched message")
	}
}

func TestReopenCompactsAndContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.journal")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	seq1, _ := j.Append(model.NewMessage(model.Person{PersonID: 1, Name: "Ada"}))
	seq2, _ := j.Append(model.NewMessage(model.Person{PersonID: 2, Name: "Bob"}))
	if err := j.Commit(seq1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2 := openTestJournal(t, path)
	seq3, err := j2.Append(model.NewMessage(model.Person{PersonID: 3, Name: "Cy"}))
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if seq3 <= seq2 {
		t.Fatalf("seq after reopen = %d, want > %d", seq3, seq2)
	}

	var ids []int32
	_, err = j2.Replay(func(_ uint64, msg model.Message) error {
		ids = append(ids, msg.Data.(model.Person).PersonID)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Fatalf("Replay ids = %v, want [2 3]", ids)
	}
}

func TestOpenIgnoresPartialTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.journal")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := j.Append(model.NewMessage(model.Person{PersonID: 1, Name: "Ada"})); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate torn write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString(`{"seq":999,"msg":`); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close torn writer: %v", err)
	}

	j2 := openTestJournal(t, path)
	got := replayTypes(t, j2)
	if len(got) != 1 || got[0] != model.TypePerson {
		t.Fatalf("Replay after torn write = %v, want [Person]", got)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestReplayCountsUndecodableEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.journal")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := j.Append(model.NewMessage(model.Person{PersonID: 1, Name: "Ada"})); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A well-formed entry whose line is no longer a known variant.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString(`{"seq":2,"msg":{"type":"Retired","data":{}}}` + "\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close appender: %v", err)
	}

	j2 := openTestJournal(t, path)
	var seqs []uint64
	skipped, err := j2.Replay(func(seq uint64, _ model.Message) error {
		seqs = append(seqs, seq)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
	if len(seqs) != 1 || seqs[0] != 1 {
		t.Fatalf("replayed seqs = %v, want [1]", seqs)
	}
}
