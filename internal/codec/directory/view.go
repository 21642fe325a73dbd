package directory

import "slices"

// Tree is a point-in-time copy of the whole directory in pre-order.
type Tree struct {
	Folders  []FolderView `json:"folders"`
	Contacts []Contact    `json:"contacts"`
}

// Stats is the folder and contact count.
type Stats struct {
	Folders  int `json:"folders"`
	Contacts int `json:"contacts"`
}

func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Stats{Folders: len(d.folders), Contacts: len(d.contacts)}
}

// Folder returns a copy of the folder with id.
func (d *Directory) Folder(id string) (FolderView, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.folders[id]
	if !ok {
		return FolderView{}, false
	}
	return n.view(), true
}

// Contact returns a copy of the contact with id.
func (d *Directory) Contact(id string) (Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.contacts[id]
	if !ok {
		return Contact{}, false
	}
	return n.copy(), true
}

// Contents lists the direct children of folderID in insertion order. An
// empty id lists the top level.
func (d *Directory) Contents(folderID string) ([]FolderView, []Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	folderIDs, contactIDs := d.rootFolders, d.rootContacts
	if folderID != "" {
		n, ok := d.folders[folderID]
		if !ok {
			return nil, nil, false
		}
		folderIDs, contactIDs = n.folders, n.contacts
	}
	folders := make([]FolderView, 0, len(folderIDs))
	for _, id := range folderIDs {
		folders = append(folders, d.folders[id].view())
	}
	contacts := make([]Contact, 0, len(contactIDs))
	for _, id := range contactIDs {
		contacts = append(contacts, d.contacts[id].copy())
	}
	return folders, contacts, true
}

// Snapshot copies the whole tree, depth first.
func (d *Directory) Snapshot() Tree {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tree := Tree{
		Folders:  make([]FolderView, 0, len(d.folders)),
		Contacts: make([]Contact, 0, len(d.contacts)),
	}
	for _, id := range d.rootContacts {
		tree.Contacts = append(tree.Contacts, d.contacts[id].copy())
	}
	var walk func(ids []string)
	walk = func(ids []string) {
		for _, id := range ids {
			n := d.folders[id]
			tree.Folders = append(tree.Folders, n.view())
			for _, cid := range n.contacts {
				tree.Contacts = append(tree.Contacts, d.contacts[cid].copy())
			}
			walk(n.folders)
		}
	}
	walk(d.rootFolders)
	return tree
}

func (n *folderNode) view() FolderView {
	return FolderView{
		Folder:   n.folder,
		Type:     n.kind,
		Folders:  slices.Clone(n.folders),
		Contacts: slices.Clone(n.contacts),
	}
}

func (n *contactNode) copy() Contact {
	c := n.contact
	c.Methods = slices.Clone(c.Methods)
	return c
}
