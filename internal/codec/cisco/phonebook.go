package cisco

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/directory"
	"github.com/danmuck/codecctl/internal/codec/message"
	"github.com/rs/zerolog/log"
)

const (
	PhonebookSearchPath = "CommandResponse/PhonebookSearchResult"

	DefaultPageSize = 100
)

// Page is one phonebook search result.
type Page struct {
	Folders  []directory.Folder
	Contacts []directory.Contact
	Offset   int
	Total    int
}

// Phonebook feeds search results into the device directory.
type Phonebook struct {
	conn     requester
	dir      *directory.Directory
	handles  component.Handles
	claimed  claims
	pageSize int
}

func NewPhonebook(conn requester, dir *directory.Directory) (*Phonebook, error) {
	p := &Phonebook{conn: conn, dir: dir, claimed: newClaims(), pageSize: DefaultPageSize}
	if err := p.handles.Keep(conn.Dispatcher().RegisterAsync(PhonebookSearchPath, p.handle)); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Phonebook) Name() string {
	return "phonebook"
}

func (p *Phonebook) InitCommands() []string {
	return []string{searchCommand(directory.Corporate, "", 0, p.pageSize)}
}

func (p *Phonebook) Snapshot() map[string]any {
	s := p.dir.Stats()
	return map[string]any{"folders": s.Folders, "contacts": s.Contacts}
}

func (p *Phonebook) Close() {
	p.handles.Close()
}

// Search fetches one page of folderID ("" for the top level) and merges it.
func (p *Phonebook) Search(ctx context.Context, kind directory.PhonebookType, folderID string, offset, limit int) (Page, error) {
	token := newToken()
	cmd := WithResultID(searchCommand(kind, folderID, offset, limit), token)
	p.claimed.hold(token)
	doc, err := p.conn.Request(ctx, PhonebookSearchPath, token, cmd)
	if err != nil {
		p.claimed.release(token)
		return Page{}, err
	}
	page, err := parsePage(doc)
	if err != nil {
		return Page{}, err
	}
	if _, err := p.dir.Merge(page.Folders, page.Contacts); err != nil {
		log.Warn().Err(err).Str("folder", folderID).Msg("cisco: phonebook page partially merged")
	}
	return page, nil
}

// Sync walks the whole phonebook breadth first, paging every folder.
func (p *Phonebook) Sync(ctx context.Context, kind directory.PhonebookType) error {
	queue := []string{""}
	seen := map[string]bool{"": true}
	for len(queue) > 0 {
		folder := queue[0]
		queue = queue[1:]
		for offset := 0; ; {
			page, err := p.Search(ctx, kind, folder, offset, p.pageSize)
			if err != nil {
				return fmt.Errorf("cisco: phonebook sync folder %q: %w", folder, err)
			}
			for _, f := range page.Folders {
				if !seen[f.ID] {
					seen[f.ID] = true
					queue = append(queue, f.ID)
				}
			}
			got := len(page.Folders) + len(page.Contacts)
			offset += got
			if got == 0 || offset >= page.Total {
				break
			}
		}
	}
	return nil
}

// SyncDirectory walks the corporate phonebook.
func (p *Phonebook) SyncDirectory(ctx context.Context) error {
	return p.Sync(ctx, directory.Corporate)
}

func (p *Phonebook) handle(doc *message.Document) {
	if p.claimed.owned(doc) {
		return
	}
	page, err := parsePage(doc)
	if err != nil {
		log.Warn().Err(err).Msg("cisco: phonebook result rejected")
		return
	}
	if _, err := p.dir.Merge(page.Folders, page.Contacts); err != nil {
		log.Warn().Err(err).Msg("cisco: phonebook result partially merged")
	}
}

func searchCommand(kind directory.PhonebookType, folderID string, offset, limit int) string {
	book := "Corporate"
	if kind == directory.Local {
		book = "Local"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "xCommand Phonebook Search PhonebookType: %s", book)
	if folderID != "" {
		fmt.Fprintf(&b, " FolderId: %q", folderID)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " Offset: %d", offset)
	}
	fmt.Fprintf(&b, " Limit: %d", limit)
	return b.String()
}

func parsePage(doc *message.Document) (Page, error) {
	result := doc.First()
	if result == nil {
		return Page{}, fmt.Errorf("%w: empty phonebook result", message.ErrMalformedFrame)
	}
	if err := commandStatus(result); err != nil {
		return Page{}, err
	}
	page := Page{
		Offset: number(result, "ResultInfo/Offset", 0),
		Total:  number(result, "ResultInfo/TotalRows", 0),
	}
	for _, n := range result.All("Folder") {
		page.Folders = append(page.Folders, directory.Folder{
			ID:       text(n, "FolderId", ""),
			Name:     text(n, "Name", ""),
			ParentID: text(n, "ParentFolderId", ""),
		})
	}
	for _, n := range result.All("Contact") {
		c := directory.Contact{
			ID:       text(n, "ContactId", ""),
			Name:     text(n, "Name", ""),
			FolderID: text(n, "FolderId", ""),
		}
		for _, m := range n.All("ContactMethod") {
			c.Methods = append(c.Methods, directory.ContactMethod{
				Number: text(m, "Number", ""),
				Type:   text(m, "Protocol", ""),
			})
		}
		page.Contacts = append(page.Contacts, c)
	}
	return page, nil
}
