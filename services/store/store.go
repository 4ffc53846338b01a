package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"peerchat/apperrors"
	"peerchat/pkg/logger"
	"peerchat/pkg/metrics"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	conversationIndex = "index:conversations"
	groupIndex        = "index:groups"
	contactIndex      = "index:contacts"
)

// Store keeps conversation logs, groups and contacts as whole JSON values
// per key. Every create also records the key in an index inside the same
// transaction so listings never miss an entry.
type Store struct {
	kv     KV
	prefix string
	now    func() time.Time
	log    *logger.Logger
}

type Option func(*Store)

// WithClock overrides the time source used for group creation timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(kv KV, prefix string, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		prefix: prefix,
		now:    time.Now,
		log:    logger.WithComponent("store").WithField("backend", kv.Name()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	return s.kv.Close()
}

func (s *Store) conversationKey(counterparty string) string { return s.prefix + "conv:" + counterparty }
func (s *Store) groupKey(id string) string                  { return s.prefix + "group:" + id }
func (s *Store) groupLogKey(id string) string               { return s.prefix + "group:" + id + ":messages" }
func (s *Store) contactKey(identity string) string          { return s.prefix + "contact:" + identity }
func (s *Store) indexKey(name string) string                { return s.prefix + name }

// observe records latency and wraps backend failures as storage errors
func (s *Store) observe(op string, start time.Time, errp *error) {
	err := *errp
	metrics.RecordStoreOperation(s.kv.Name(), op, time.Since(start).Seconds(), err == nil || errors.Is(err, ErrNotFound))
	if err == nil || errors.Is(err, ErrNotFound) || apperrors.IsAppError(err) {
		return
	}
	s.log.WithError(err).WithField("operation", op).Error("store operation failed")
	*errp = apperrors.NewStorageError(op, err)
}

func readJSON[T any](get func(string) ([]byte, error), key string, into *T) (bool, error) {
	raw, err := get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func writeJSON(txn Txn, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, raw)
}

// addToIndex inserts entry into the sorted index record at key
func addToIndex(txn Txn, key, entry string) error {
	var index []string
	if _, err := readJSON(txn.Get, key, &index); err != nil {
		return err
	}
	pos, found := slices.BinarySearch(index, entry)
	if found {
		return nil
	}
	index = slices.Insert(index, pos, entry)
	return writeJSON(txn, key, index)
}

func (s *Store) readIndex(ctx context.Context, name string) ([]string, error) {
	var index []string
	get := func(k string) ([]byte, error) { return s.kv.Get(ctx, k) }
	if _, err := readJSON(get, s.indexKey(name), &index); err != nil {
		return nil, err
	}
	return index, nil
}

// appendTo appends msg to the log at logKey, registering indexEntry on first write
func (s *Store) appendTo(ctx context.Context, logKey, indexName, indexEntry string, msg ChatMessage) error {
	keys := []string{logKey}
	if indexName != "" {
		keys = append(keys, s.indexKey(indexName))
	}
	return s.kv.Update(ctx, keys, func(txn Txn) error {
		var log []ChatMessage
		existed, err := readJSON(txn.Get, logKey, &log)
		if err != nil {
			return err
		}
		if !existed && indexName != "" {
			if err := addToIndex(txn, s.indexKey(indexName), indexEntry); err != nil {
				return err
			}
		}
		return writeJSON(txn, logKey, append(log, msg))
	})
}

func (s *Store) readLog(ctx context.Context, key string) ([]ChatMessage, error) {
	log := []ChatMessage{}
	get := func(k string) ([]byte, error) { return s.kv.Get(ctx, k) }
	if _, err := readJSON(get, key, &log); err != nil {
		return nil, err
	}
	return log, nil
}

// AppendMessage appends msg to the direct conversation with counterparty
func (s *Store) AppendMessage(ctx context.Context, counterparty string, msg ChatMessage) (err error) {
	defer s.observe("append_message", time.Now(), &err)
	return s.appendTo(ctx, s.conversationKey(counterparty), conversationIndex, counterparty, msg)
}

// GetMessages returns the log for counterparty; an unknown counterparty yields an empty log
func (s *Store) GetMessages(ctx context.Context, counterparty string) (msgs []ChatMessage, err error) {
	defer s.observe("get_messages", time.Now(), &err)
	return s.readLog(ctx, s.conversationKey(counterparty))
}

// AllMessages returns every direct conversation keyed by counterparty
func (s *Store) AllMessages(ctx context.Context) (all map[string][]ChatMessage, err error) {
	defer s.observe("all_messages", time.Now(), &err)

	index, err := s.readIndex(ctx, conversationIndex)
	if err != nil {
		return nil, err
	}
	all = make(map[string][]ChatMessage, len(index))
	for _, counterparty := range index {
		log, err := s.readLog(ctx, s.conversationKey(counterparty))
		if err != nil {
			return nil, err
		}
		all[counterparty] = log
	}
	return all, nil
}

// CreateGroup stores a new group whose member set always includes creator
func (s *Store) CreateGroup(ctx context.Context, name string, members []string, creator string) (group Group, err error) {
	defer s.observe("create_group", time.Now(), &err)

	all := lo.Uniq(append(slices.Clone(members), creator))
	all = lo.Filter(all, func(m string, _ int) bool { return m != "" })
	slices.Sort(all)

	group = Group{
		ID:        "group_" + uuid.NewString(),
		Name:      name,
		Members:   all,
		CreatedBy: creator,
		CreatedAt: uint64(s.now().Unix()),
	}

	key := s.groupKey(group.ID)
	err = s.kv.Update(ctx, []string{key, s.indexKey(groupIndex)}, func(txn Txn) error {
		if err := writeJSON(txn, key, group); err != nil {
			return err
		}
		return addToIndex(txn, s.indexKey(groupIndex), group.ID)
	})
	if err != nil {
		return Group{}, err
	}
	return group, nil
}

// GetGroup returns ErrNotFound when no group has id
func (s *Store) GetGroup(ctx context.Context, id string) (group Group, err error) {
	defer s.observe("get_group", time.Now(), &err)

	get := func(k string) ([]byte, error) { return s.kv.Get(ctx, k) }
	found, err := readJSON(get, s.groupKey(id), &group)
	if err != nil {
		return Group{}, err
	}
	if !found {
		return Group{}, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	return group, nil
}

func (s *Store) ListGroups(ctx context.Context) (groups []Group, err error) {
	defer s.observe("list_groups", time.Now(), &err)

	index, err := s.readIndex(ctx, groupIndex)
	if err != nil {
		return nil, err
	}
	groups = make([]Group, 0, len(index))
	get := func(k string) ([]byte, error) { return s.kv.Get(ctx, k) }
	for _, id := range index {
		var g Group
		found, err := readJSON(get, s.groupKey(id), &g)
		if err != nil {
			return nil, err
		}
		if found {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

// mutateMembers applies change to the member set of group id; it reports
// whether anything was written
func (s *Store) mutateMembers(ctx context.Context, id string, change func(Group) ([]string, bool)) (bool, error) {
	key := s.groupKey(id)
	changed := false
	err := s.kv.Update(ctx, []string{key}, func(txn Txn) error {
		changed = false
		var g Group
		found, err := readJSON(txn.Get, key, &g)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("group %s: %w", id, ErrNotFound)
		}
		members, ok := change(g)
		if !ok {
			return nil
		}
		g.Members = members
		changed = true
		return writeJSON(txn, key, g)
	})
	return changed, err
}

// AddMember reports true iff member was not already in the group
func (s *Store) AddMember(ctx context.Context, id, member string) (added bool, err error) {
	defer s.observe("add_member", time.Now(), &err)
	return s.mutateMembers(ctx, id, func(g Group) ([]string, bool) {
		pos, found := slices.BinarySearch(g.Members, member)
		if found {
			return nil, false
		}
		return slices.Insert(slices.Clone(g.Members), pos, member), true
	})
}

// RemoveMember reports true iff member was present. The creator is not special-cased.
func (s *Store) RemoveMember(ctx context.Context, id, member string) (removed bool, err error) {
	defer s.observe("remove_member", time.Now(), &err)
	return s.mutateMembers(ctx, id, func(g Group) ([]string, bool) {
		pos, found := slices.BinarySearch(g.Members, member)
		if !found {
			return nil, false
		}
		return slices.Delete(slices.Clone(g.Members), pos, pos+1), true
	})
}

// AppendGroupMessage appends msg to the group log. Membership is checked by the caller.
func (s *Store) AppendGroupMessage(ctx context.Context, id string, msg ChatMessage) (err error) {
	defer s.observe("append_group_message", time.Now(), &err)
	return s.appendTo(ctx, s.groupLogKey(id), "", "", msg)
}

func (s *Store) GetGroupMessages(ctx context.Context, id string) (msgs []ChatMessage, err error) {
	defer s.observe("get_group_messages", time.Now(), &err)
	return s.readLog(ctx, s.groupLogKey(id))
}

// AddContact stores c and reports true iff the identity was not known before
func (s *Store) AddContact(ctx context.Context, c Contact) (added bool, err error) {
	defer s.observe("add_contact", time.Now(), &err)

	if c.Status == "" {
		c.Status = ContactStatusKnown
	}
	key := s.contactKey(c.Identity)
	err = s.kv.Update(ctx, []string{key, s.indexKey(contactIndex)}, func(txn Txn) error {
		var existing Contact
		found, err := readJSON(txn.Get, key, &existing)
		if err != nil {
			return err
		}
		added = !found
		if found && existing == c {
			return nil
		}
		if err := writeJSON(txn, key, c); err != nil {
			return err
		}
		return addToIndex(txn, s.indexKey(contactIndex), c.Identity)
	})
	return added, err
}

func (s *Store) ListContacts(ctx context.Context) (contacts []Contact, err error) {
	defer s.observe("list_contacts", time.Now(), &err)

	index, err := s.readIndex(ctx, contactIndex)
	if err != nil {
		return nil, err
	}
	contacts = make([]Contact, 0, len(index))
	get := func(k string) ([]byte, error) { return s.kv.Get(ctx, k) }
	for _, identity := range index {
		var c Contact
		found, err := readJSON(get, s.contactKey(identity), &c)
		if err != nil {
			return nil, err
		}
		if found {
			contacts = append(contacts, c)
		}
	}
	return contacts, nil
}
