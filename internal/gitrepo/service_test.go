package gitrepo

import (
	"testing"
)

func TestEnsureQueryRepoIsIdempotent(t *testing.T) {
	svc := New(t.TempDir())
	initial := Content{Title: "Weekly actives", SQL: "SELECT 1"}

	if err := svc.EnsureQueryRepo("qry_1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureQueryRepo() error = %v", err)
	}
	if err := svc.EnsureQueryRepo("qry_1", Content{Title: "Other"}, "Avery"); err != nil {
		t.Fatalf("second EnsureQueryRepo() error = %v", err)
	}

	history, err := svc.History("qry_1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one baseline commit, got %d", len(history))
	}
	if history[0].Message != "Import query baseline" {
		t.Fatalf("unexpected baseline message %q", history[0].Message)
	}
}

func TestCommitSnapshotAndReadBack(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureQueryRepo("qry_1", Content{Title: "Weekly actives", SQL: "SELECT 1"}, "Avery"); err != nil {
		t.Fatalf("EnsureQueryRepo() error = %v", err)
	}

	commit, err := svc.CommitSnapshot("qry_1", Content{
		Title:        "Weekly actives",
		SQL:          "SELECT count(*) FROM events",
		ChangeReason: "Count real events",
	}, "Avery", "Count real events")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if len(commit.Hash) != 7 {
		t.Fatalf("expected short hash, got %q", commit.Hash)
	}
	if commit.Author != "Avery" {
		t.Fatalf("commit author = %q", commit.Author)
	}

	content, err := svc.GetContentByHash("qry_1", commit.Hash)
	if err != nil {
		t.Fatalf("GetContentByHash() error = %v", err)
	}
	if content.SQL != "SELECT count(*) FROM events" {
		t.Fatalf("round-tripped SQL = %q", content.SQL)
	}
	if content.ChangeReason != "Count real events" {
		t.Fatalf("round-tripped change reason = %q", content.ChangeReason)
	}
}

func TestHistoryNewestFirstWithLimit(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureQueryRepo("qry_1", Content{Title: "Q", SQL: "SELECT 1"}, "Avery"); err != nil {
		t.Fatalf("EnsureQueryRepo() error = %v", err)
	}
	for _, msg := range []string{"first", "second", "third"} {
		if _, err := svc.CommitSnapshot("qry_1", Content{Title: "Q", SQL: "SELECT 1 -- " + msg}, "Avery", msg); err != nil {
			t.Fatalf("CommitSnapshot(%s) error = %v", msg, err)
		}
	}

	history, err := svc.History("qry_1", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if history[0].Message != "third" || history[1].Message != "second" {
		t.Fatalf("unexpected order: %q, %q", history[0].Message, history[1].Message)
	}
}

func TestCompareReportsFieldAndLineChanges(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureQueryRepo("qry_1", Content{Title: "Q", SQL: ""}, "Avery"); err != nil {
		t.Fatalf("EnsureQueryRepo() error = %v", err)
	}

	from, err := svc.CommitSnapshot("qry_1", Content{
		Title: "Weekly actives",
		SQL:   "SELECT user_id\nFROM events\nWHERE kind = 'login'",
	}, "Avery", "baseline")
	if err != nil {
		t.Fatalf("CommitSnapshot(from) error = %v", err)
	}
	to, err := svc.CommitSnapshot("qry_1", Content{
		Title: "Weekly active users",
		SQL:   "SELECT count(DISTINCT user_id)\nFROM events\nWHERE kind = 'login'\nGROUP BY 1",
	}, "Avery", "count distinct")
	if err != nil {
		t.Fatalf("CommitSnapshot(to) error = %v", err)
	}

	comparison, err := svc.Compare("qry_1", from.Hash, to.Hash)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}

	fields := map[string]bool{}
	for _, field := range comparison.Fields {
		fields[field.Field] = true
	}
	if !fields["title"] || !fields["sql"] {
		t.Fatalf("expected title and sql diffs, got %+v", comparison.Fields)
	}
	if comparison.LinesAdded != 2 || comparison.LinesRemoved != 1 {
		t.Fatalf("line churn = +%d/-%d, want +2/-1", comparison.LinesAdded, comparison.LinesRemoved)
	}
}

func TestDiffLines(t *testing.T) {
	cases := []struct {
		name    string
		from    string
		to      string
		added   int
		removed int
	}{
		{name: "identical", from: "a\nb", to: "a\nb", added: 0, removed: 0},
		{name: "pure addition", from: "a", to: "a\nb", added: 1, removed: 0},
		{name: "pure removal", from: "a\nb", to: "a", added: 0, removed: 1},
		{name: "replacement", from: "a", to: "b", added: 1, removed: 1},
		{name: "from empty", from: "", to: "a\nb", added: 2, removed: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			added, removed := diffLines(tc.from, tc.to)
			if added != tc.added || removed != tc.removed {
				t.Fatalf("diffLines() = +%d/-%d, want +%d/-%d", added, removed, tc.added, tc.removed)
			}
		})
	}
}
