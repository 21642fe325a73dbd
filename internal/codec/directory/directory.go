// Package directory mirrors a codec phonebook as a folder/contact tree.
//
// The Directory exclusively owns every node. Callers feed it fragments as
// the device streams them and read back copies; nothing outside the
// package holds a mutable reference. Devices re-stream the whole phonebook
// periodically, so re-adding an identical entry is a silent no-op.
package directory

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// LocalPrefix marks folder ids that belong to the codec's local phonebook.
const LocalPrefix = "local"

var (
	ErrInvalidEntry  = errors.New("directory: invalid entry")
	ErrUnknownFolder = errors.New("directory: unknown parent folder")
	ErrFolderCycle   = errors.New("directory: folder cannot be its own ancestor")
)

// PhonebookType classifies a folder by where the codec stores it.
type PhonebookType int

const (
	Corporate PhonebookType = iota
	Local
)

func (p PhonebookType) String() string {
	if p == Local {
		return "local"
	}
	return "corporate"
}

func (p PhonebookType) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PhonebookType) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "local":
		*p = Local
	case "corporate":
		*p = Corporate
	default:
		return fmt.Errorf("%w: phonebook type %q", ErrInvalidEntry, b)
	}
	return nil
}

// Classify derives the phonebook type from a folder id alone.
func Classify(folderID string) PhonebookType {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(folderID)), LocalPrefix) {
		return Local
	}
	return Corporate
}

// ContactMethod is one way of reaching a contact.
type ContactMethod struct {
	Number string `json:"number"`
	Type   string `json:"type"`
}

// Folder is a folder fragment as parsed from the wire. ParentID is empty
// for top-level folders.
type Folder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// Contact is a contact fragment. FolderID is empty for contacts that live
// at the top level.
type Contact struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	FolderID string          `json:"folder_id,omitempty"`
	Methods  []ContactMethod `json:"methods,omitempty"`
}

// FolderView is a read-only copy of a stored folder.
type FolderView struct {
	Folder
	Type     PhonebookType `json:"type"`
	Folders  []string      `json:"folders,omitempty"`
	Contacts []string      `json:"contacts,omitempty"`
}

// Change describes one notification.
type Change struct {
	Added   int  `json:"added"`
	Updated int  `json:"updated"`
	Cleared bool `json:"cleared"`
}

type folderNode struct {
	folder   Folder
	kind     PhonebookType
	folders  []string
	contacts []string
}

type contactNode struct {
	contact Contact
}

type listener struct {
	id uint64
	fn func(Change)
}

// Directory is the synchronizer for one codec connection.
type Directory struct {
	name string

	mu           sync.RWMutex
	folders      map[string]*folderNode
	contacts     map[string]*contactNode
	rootFolders  []string
	rootContacts []string

	lmu       sync.RWMutex
	listeners []listener
	seq       atomic.Uint64
}

func New(name string) *Directory {
	return &Directory{
		name:     name,
		folders:  make(map[string]*folderNode),
		contacts: make(map[string]*contactNode),
	}
}

// Subscription is the handle returned by OnChange.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// OnChange registers fn for change notifications. Listeners run in
// registration order on the goroutine that made the change.
func (d *Directory) OnChange(fn func(Change)) *Subscription {
	id := d.seq.Add(1)
	d.lmu.Lock()
	d.listeners = append(slices.Clone(d.listeners), listener{id: id, fn: fn})
	d.lmu.Unlock()
	return &Subscription{cancel: func() {
		d.lmu.Lock()
		defer d.lmu.Unlock()
		d.listeners = slices.DeleteFunc(slices.Clone(d.listeners), func(l listener) bool {
			return l.id == id
		})
	}}
}

// AddFolder stores f. It reports true when f is new. A re-seen folder with
// changed fields is updated and notified but reports false; an identical
// one changes nothing.
func (d *Directory) AddFolder(f Folder) (bool, error) {
	d.mu.Lock()
	added, updated, err := d.addFolderLocked(f)
	d.mu.Unlock()
	if err != nil {
		return false, err
	}
	d.notify(counts(added, updated))
	return added, nil
}

// AddContact stores c with the same rules as AddFolder.
func (d *Directory) AddContact(c Contact) (bool, error) {
	d.mu.Lock()
	added, updated, err := d.addContactLocked(c)
	d.mu.Unlock()
	if err != nil {
		return false, err
	}
	d.notify(counts(added, updated))
	return added, nil
}

// Merge applies a batch of fragments, folders first, and raises at most one
// notification for the whole batch. Invalid fragments are skipped and
// reported together.
func (d *Directory) Merge(folders []Folder, contacts []Contact) (Change, error) {
	var (
		change Change
		errs   []error
	)
	d.mu.Lock()
	for _, f := range folders {
		added, updated, err := d.addFolderLocked(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		change = change.plus(counts(added, updated))
	}
	for _, c := range contacts {
		added, updated, err := d.addContactLocked(c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		change = change.plus(counts(added, updated))
	}
	d.mu.Unlock()

	d.notify(change)
	return change, errors.Join(errs...)
}

// Clear drops the whole tree. It notifies only if something was removed.
func (d *Directory) Clear() {
	d.mu.Lock()
	had := len(d.folders) > 0 || len(d.contacts) > 0
	d.folders = make(map[string]*folderNode)
	d.contacts = make(map[string]*contactNode)
	d.rootFolders = nil
	d.rootContacts = nil
	d.mu.Unlock()

	if had {
		d.notify(Change{Cleared: true})
	}
}

func (d *Directory) addFolderLocked(f Folder) (added, updated bool, err error) {
	f.ID = strings.TrimSpace(f.ID)
	f.Name = strings.TrimSpace(f.Name)
	f.ParentID = strings.TrimSpace(f.ParentID)
	if f.ID == "" {
		return false, false, fmt.Errorf("%w: folder id is required", ErrInvalidEntry)
	}
	if f.ParentID != "" {
		if _, ok := d.folders[f.ParentID]; !ok {
			return false, false, fmt.Errorf("%w: %q (folder %q)", ErrUnknownFolder, f.ParentID, f.ID)
		}
		if d.isAncestorLocked(f.ID, f.ParentID) {
			return false, false, fmt.Errorf("%w: %q under %q", ErrFolderCycle, f.ID, f.ParentID)
		}
	}

	existing, ok := d.folders[f.ID]
	if !ok {
		d.folders[f.ID] = &folderNode{folder: f, kind: Classify(f.ID)}
		d.attachFolder(f.ParentID, f.ID)
		return true, false, nil
	}
	if existing.folder == f {
		return false, false, nil
	}
	if existing.folder.ParentID != f.ParentID {
		d.detachFolder(existing.folder.ParentID, f.ID)
		d.attachFolder(f.ParentID, f.ID)
	}
	existing.folder = f
	return false, true, nil
}

func (d *Directory) addContactLocked(c Contact) (added, updated bool, err error) {
	c.ID = strings.TrimSpace(c.ID)
	c.Name = strings.TrimSpace(c.Name)
	c.FolderID = strings.TrimSpace(c.FolderID)
	if c.ID == "" {
		return false, false, fmt.Errorf("%w: contact id is required", ErrInvalidEntry)
	}
	if c.FolderID != "" {
		if _, ok := d.folders[c.FolderID]; !ok {
			return false, false, fmt.Errorf("%w: %q (contact %q)", ErrUnknownFolder, c.FolderID, c.ID)
		}
	}
	c.Methods = slices.Clone(c.Methods)

	existing, ok := d.contacts[c.ID]
	if !ok {
		d.contacts[c.ID] = &contactNode{contact: c}
		d.attachContact(c.FolderID, c.ID)
		return true, false, nil
	}
	old := existing.contact
	if old.Name == c.Name && old.FolderID == c.FolderID && slices.Equal(old.Methods, c.Methods) {
		return false, false, nil
	}
	if old.FolderID != c.FolderID {
		d.detachContact(old.FolderID, c.ID)
		d.attachContact(c.FolderID, c.ID)
	}
	existing.contact = c
	return false, true, nil
}

// isAncestorLocked reports whether id is folder or one of its ancestors.
func (d *Directory) isAncestorLocked(id, folder string) bool {
	for cur := folder; cur != ""; {
		if cur == id {
			return true
		}
		n, ok := d.folders[cur]
		if !ok {
			return false
		}
		cur = n.folder.ParentID
	}
	return false
}

func (d *Directory) attachFolder(parent, id string) {
	if parent == "" {
		d.rootFolders = append(d.rootFolders, id)
		return
	}
	p := d.folders[parent]
	p.folders = append(p.folders, id)
}

func (d *Directory) detachFolder(parent, id string) {
	if parent == "" {
		d.rootFolders = remove(d.rootFolders, id)
		return
	}
	if p, ok := d.folders[parent]; ok {
		p.folders = remove(p.folders, id)
	}
}

func (d *Directory) attachContact(folder, id string) {
	if folder == "" {
		d.rootContacts = append(d.rootContacts, id)
		return
	}
	p := d.folders[folder]
	p.contacts = append(p.contacts, id)
}

func (d *Directory) detachContact(folder, id string) {
	if folder == "" {
		d.rootContacts = remove(d.rootContacts, id)
		return
	}
	if p, ok := d.folders[folder]; ok {
		p.contacts = remove(p.contacts, id)
	}
}

func (d *Directory) notify(change Change) {
	if change.empty() {
		return
	}
	d.lmu.RLock()
	listeners := d.listeners
	d.lmu.RUnlock()
	for _, l := range listeners {
		d.call(l, change)
	}
}

func (d *Directory) call(l listener, change Change) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("directory", d.name).Interface("panic", rec).Msg("directory: listener panicked")
		}
	}()
	l.fn(change)
}

func counts(added, updated bool) Change {
	var c Change
	if added {
		c.Added = 1
	}
	if updated {
		c.Updated = 1
	}
	return c
}

func (c Change) plus(o Change) Change {
	return Change{Added: c.Added + o.Added, Updated: c.Updated + o.Updated, Cleared: c.Cleared || o.Cleared}
}

func (c Change) empty() bool {
	return c.Added == 0 && c.Updated == 0 && !c.Cleared
}

func remove(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(s string) bool { return s == id })
}
