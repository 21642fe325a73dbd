package directory

import (
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/codecctl/internal/testutil/testlog"
)

func recordChanges(d *Directory) *[]Change {
	var got []Change
	d.OnChange(func(c Change) { got = append(got, c) })
	return &got
}

func TestDuplicateContactNotifiesOnce(t *testing.T) {
	testlog.Start(t)
	d := New("test")
	changes := recordChanges(d)
	if _, err := d.AddFolder(Folder{ID: "localGroupId-1", Name: "Favorites"}); err != nil {
		t.Fatalf("add folder: %v", err)
	}
	c := Contact{
		ID:       "localContactId-7",
		Name:     "Lab Room",
		FolderID: "localGroupId-1",
		Methods:  []ContactMethod{{Number: "lab@example.com", Type: "SIP"}},
	}
	added, err := d.AddContact(c)
	if err != nil || !added {
		t.Fatalf("first add: added=%v err=%v", added, err)
	}
	added, err = d.AddContact(c)
	if err != nil || added {
		t.Fatalf("second add: added=%v err=%v", added, err)
	}
	if len(*changes) != 2 {
		t.Fatalf("expected folder + contact notifications only, got %v", *changes)
	}
	if (*changes)[1] != (Change{Added: 1}) {
		t.Fatalf("unexpected contact change: %+v", (*changes)[1])
	}
}

func TestDuplicateFolderIsSilent(t *testing.T) {
	testlog.Start(t)
	d := New("test")
	changes := recordChanges(d)
	f := Folder{ID: "c_1", Name: "Corporate"}
	if added, _ := d.AddFolder(f); !added {
		t.Fatalf("expected first add to report added")
	}
	if added, _ := d.AddFolder(Folder{ID: " c_1 ", Name: "Corporate "}); added {
		t.Fatalf("expected duplicate add to report not added")
	}
	if len(*changes) != 1 {
		t.Fatalf("expected one notification, got %d", len(*changes))
	}
}

func TestClassifyByPrefix(t *testing.T) {
	testlog.Start(t)
	cases := map[string]PhonebookType{
		"localGroupId-3": Local,
		"local":          Local,
		"LocalGroupId-1": Local,
		"c_12":           Corporate,
		"corp-local":     Corporate,
		"":               Corporate,
	}
	for id, want := range cases {
		if got := Classify(id); got != want {
			t.Fatalf("Classify(%q)=%s want %s", id, got, want)
		}
	}
	d := New("test")
	d.AddFolder(Folder{ID: "localGroupId-3", Name: "Mine"})
	if f, ok := d.Folder("localGroupId-3"); !ok || f.Type != Local {
		t.Fatalf("unexpected folder view: %+v ok=%v", f, ok)
	}
}

func TestFieldChangeOnReseenEntryNotifies(t *testing.T) {
	testlog.Start(t)
	d := New("test")
	changes := recordChanges(d)
	d.AddFolder(Folder{ID: "c_1", Name: "Sales"})
	d.AddContact(Contact{ID: "e1", Name: "Alice", FolderID: "c_1"})

	added, err := d.AddContact(Contact{ID: "e1", Name: "Alice", FolderID: "c_1",
		Methods: []ContactMethod{{Number: "1001", Type: "H323"}}})
	if err != nil || added {
		t.Fatalf("update: added=%v err=%v", added, err)
	}
	if last := (*changes)[len(*changes)-1]; last != (Change{Updated: 1}) {
		t.Fatalf("expected update notification, got %+v", last)
	}
	c, _ := d.Contact("e1")
	if len(c.Methods) != 1 || c.Methods[0].Number != "1001" {
		t.Fatalf("contact not updated: %+v", c)
	}
}

func TestMoveContactBetweenFolders(t *testing.T) {
	testlog.Start(t)
	d := New("test")
	d.AddFolder(Folder{ID: "a", Name: "A"})
	d.AddFolder(Folder{ID: "b", Name: "B"})
	d.AddContact(Contact{ID: "e1", Name: "Eve", FolderID: "a"})
	d.AddContact(Contact{ID: "e1", Name: "Eve", FolderID: "b"})

	_, inA, _ := d.Contents("a")
	_, inB, _ := d.Contents("b")
	if len(inA) != 0 || len(inB) != 1 || inB[0].ID != "e1" {
		t.Fatalf("move failed: a=%v b=%v", inA, inB)
	}
}

func TestUnknownParentRejected(t *testing.T) {
	testlog.Start(t)
	d := New("test")
	if _, err := d.AddFolder(Folder{ID: "child", ParentID: "missing"}); !errors.Is(err, ErrUnknownFolder) {
		t.Fatalf("expected ErrUnknownFolder, got %v", err)
	}
	if _, err := d.AddContact(Contact{ID: "e1", FolderID: "missing"}); !errors.Is(err, ErrUnknownFolder) {
		t.Fatalf("expected ErrUnknownFolder, got %v", err)
	}
	if _, err := d.AddContact(Contact{ID: " "}); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestFolderCycleRejected(t *testing.T) {
	testlog.Start(t)
	d := New("test")
	d.AddFolder(Folder{ID: "a"})
	d.AddFolder(Folder{ID: "b", ParentID: "a"})
	if _, err := d.AddFolder(Folder{ID: "a", ParentID: "b"}); !errors.Is(err, ErrFolderCycle) {
		t.Fatalf("expected ErrFolderCycle, got %v", err)
	}
}

func TestClearNotifiesOnlyWhenNonEmpty(t *testing.T) {
	testlog.Start(t)
	d := New("test")
	changes := recordChanges(d)
	d.Clear()
	if len(*changes) != 0 {
		t.Fatalf("clearing an empty directory should be silent")
	}
	d.AddFolder(Folder{ID: "a"})
	d.AddContact(Contact{ID: "e1", FolderID: "a"})
	d.Clear()
	if last := (*changes)[len(*changes)-1]; !last.Cleared {
		t.Fatalf("expected cleared notification, got %+v", last)
	}
	if s := d.Stats(); s != (Stats{}) {
		t.Fatalf("expected empty tree, got %+v", s)
	}
	if added, _ := d.AddFolder(Folder{ID: "a"}); !added {
		t.Fatalf("folder should be new again after clear")
	}
}

func TestMergeNotifiesOncePerBatch(t *testing.T) {
	testlog.Start(t)
	d := New("test")
	changes := recordChanges(d)
	folders := []Folder{{ID: "a", Name: "A"}, {ID: "b", Name: "B", ParentID: "a"}}
	contacts := []Contact{
		{ID: "e1", Name: "One", FolderID: "a"},
		{ID: "e2", Name: "Two", FolderID: "b"},
		{ID: "e3", Name: "Orphan", FolderID: "zzz"},
	}
	change, err := d.Merge(folders, contacts)
	if !errors.Is(err, ErrUnknownFolder) {
		t.Fatalf("expected orphan error, got %v", err)
	}
	if change != (Change{Added: 4}) || len(*changes) != 1 {
		t.Fatalf("unexpected merge result: %+v notifications=%d", change, len(*changes))
	}

	change, err = d.Merge(folders, contacts[:2])
	if err != nil || change != (Change{}) || len(*changes) != 1 {
		t.Fatalf("re-stream should be silent: %+v err=%v notifications=%d", change, err, len(*changes))
	}
}

func TestSnapshotIsDepthFirstCopy(t *testing.T) {
	testlog.Start(t)
	d := New("test")
	d.Merge(
		[]Folder{{ID: "a"}, {ID: "b"}, {ID: "a1", ParentID: "a"}},
		[]Contact{{ID: "top"}, {ID: "in-a1", FolderID: "a1", Methods: []ContactMethod{{Number: "1"}}}},
	)
	tree := d.Snapshot()
	var folderIDs, contactIDs []string
	for _, f := range tree.Folders {
		folderIDs = append(folderIDs, f.ID)
	}
	for _, c := range tree.Contacts {
		contactIDs = append(contactIDs, c.ID)
	}
	if !reflect.DeepEqual(folderIDs, []string{"a", "a1", "b"}) {
		t.Fatalf("unexpected folder order: %v", folderIDs)
	}
	if !reflect.DeepEqual(contactIDs, []string{"top", "in-a1"}) {
		t.Fatalf("unexpected contact order: %v", contactIDs)
	}

	tree.Contacts[1].Methods[0].Number = "mutated"
	tree.Folders[0].Folders[0] = "mutated"
	c, _ := d.Contact("in-a1")
	f, _ := d.Folder("a")
	if c.Methods[0].Number != "1" || f.Folders[0] != "a1" {
		t.Fatalf("snapshot shares storage with directory")
	}
}

func TestCancelledSubscriptionStopsNotifications(t *testing.T) {
	testlog.Start(t)
	d := New("test")
	calls := 0
	sub := d.OnChange(func(Change) { calls++ })
	d.AddFolder(Folder{ID: "a"})
	sub.Cancel()
	d.AddFolder(Folder{ID: "b"})
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}
