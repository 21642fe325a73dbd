package zoom

import (
	"context"
	"fmt"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/directory"
	"github.com/danmuck/codecctl/internal/codec/message"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

var (
	PhonebookListKey  = message.KeyFor(message.TypeCommand, "PhonebookListResult")
	PhonebookEventKey = message.KeyFor(message.TypeEvent, "Phonebook")
)

const DefaultPageSize = 500

// Phonebook feeds the room's contact list into the device directory. Zoom
// contacts have no folders, so every contact sits at the top level.
type Phonebook struct {
	conn     requester
	dir      *directory.Directory
	handles  component.Handles
	pageSize int
}

func NewPhonebook(conn requester, dir *directory.Directory) (*Phonebook, error) {
	p := &Phonebook{conn: conn, dir: dir, pageSize: DefaultPageSize}
	d := conn.Dispatcher()
	if err := p.handles.Keep(d.RegisterAsync(PhonebookListKey, p.handleList)); err != nil {
		return nil, err
	}
	if err := p.handles.Keep(d.RegisterAsync(PhonebookEventKey, p.handleEvent)); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Phonebook) Name() string {
	return "phonebook"
}

func (p *Phonebook) InitCommands() []string {
	return []string{listCommand(0, p.pageSize)}
}

func (p *Phonebook) Snapshot() map[string]any {
	s := p.dir.Stats()
	return map[string]any{"contacts": s.Contacts}
}

func (p *Phonebook) Close() {
	p.handles.Close()
}

// List fetches one page of contacts and merges it.
func (p *Phonebook) List(ctx context.Context, offset, limit int) ([]directory.Contact, error) {
	rec, err := p.conn.Request(ctx, PhonebookListKey, "", listCommand(offset, limit))
	if err != nil {
		return nil, err
	}
	if err := checkStatus(rec); err != nil {
		return nil, err
	}
	contacts := parseContacts(rec.Get("Contacts"))
	if _, err := p.dir.Merge(nil, contacts); err != nil {
		log.Warn().Err(err).Msg("zoom: phonebook page partially merged")
	}
	return contacts, nil
}

// SyncDirectory pages through the whole contact list.
func (p *Phonebook) SyncDirectory(ctx context.Context) error {
	for offset := 0; ; {
		page, err := p.List(ctx, offset, p.pageSize)
		if err != nil {
			return fmt.Errorf("zoom: phonebook sync at %d: %w", offset, err)
		}
		offset += len(page)
		if len(page) < p.pageSize {
			return nil
		}
	}
}

func (p *Phonebook) handleList(r *message.Record) {
	if checkStatus(r) != nil {
		return
	}
	if _, err := p.dir.Merge(nil, parseContacts(r.Get("Contacts"))); err != nil {
		log.Warn().Err(err).Msg("zoom: phonebook list partially merged")
	}
}

func (p *Phonebook) handleEvent(r *message.Record) {
	var contacts []directory.Contact
	for _, path := range []string{"Added Contact", "Updated Contact"} {
		if v := r.Get(path); v.Exists() {
			if c, ok := parseContact(v); ok {
				contacts = append(contacts, c)
			}
		}
	}
	if len(contacts) == 0 {
		return
	}
	if _, err := p.dir.Merge(nil, contacts); err != nil {
		log.Warn().Err(err).Msg("zoom: phonebook event not merged")
	}
}

func listCommand(offset, limit int) string {
	return fmt.Sprintf("zCommand Phonebook List Offset: %d Limit: %d", offset, limit)
}

func parseContacts(list gjson.Result) []directory.Contact {
	var out []directory.Contact
	list.ForEach(func(_, v gjson.Result) bool {
		if c, ok := parseContact(v); ok {
			out = append(out, c)
		}
		return true
	})
	return out
}

func parseContact(v gjson.Result) (directory.Contact, bool) {
	jid := v.Get("jid").String()
	if jid == "" {
		return directory.Contact{}, false
	}
	name := v.Get("screenName").String()
	if name == "" {
		name = v.Get("firstName").String() + " " + v.Get("lastName").String()
	}
	c := directory.Contact{
		ID:      jid,
		Name:    name,
		Methods: []directory.ContactMethod{{Number: jid, Type: "zoom"}},
	}
	if phone := v.Get("phoneNumber").String(); phone != "" {
		c.Methods = append(c.Methods, directory.ContactMethod{Number: phone, Type: "phone"})
	}
	return c, true
}
