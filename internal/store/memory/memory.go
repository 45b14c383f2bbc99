// Package memory is an in-process Store used by tests. It honors TTLs via an
// injectable clock instead of background expiry timers.
package memory

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"tickerpulse/internal/store"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu      sync.Mutex
	strings map[string]entry
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
	subs    map[string][]*subscription

	// Now supplies the clock; tests override it to drive expiry.
	Now func() time.Time
}

// New creates an empty memory store.
func New() *Store {
	return &Store{
		strings: make(map[string]entry),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		zsets:   make(map[string]map[string]float64),
		subs:    make(map[string][]*subscription),
		Now:     time.Now,
	}
}

func (s *Store) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !s.Now().Before(e.expiresAt)
}

func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.strings[key]
	var n int64
	if ok && !s.expired(e) {
		n = parseInt(e.value)
	}
	n++
	exp := time.Time{}
	if ok && !s.expired(e) {
		exp = e.expiresAt
	}
	s.strings[key] = entry{value: formatInt(n), expiresAt: exp}
	return n, nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.strings[key]; ok && !s.expired(e) {
		e.expiresAt = s.Now().Add(ttl)
		s.strings[key] = e
	}
	return nil
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.strings[key]
	if !ok || s.expired(e) {
		return "", store.ErrNotFound
	}
	return e.value, nil
}

func (s *Store) SetEX(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp := time.Time{}
	if ttl > 0 {
		exp = s.Now().Add(ttl)
	}
	s.strings[key] = entry{value: value, expiresAt: exp}
	return nil
}

func (s *Store) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.strings[key]; ok && !s.expired(e) {
		return false, nil
	}
	exp := time.Time{}
	if ttl > 0 {
		exp = s.Now().Add(ttl)
	}
	s.strings[key] = entry{value: value, expiresAt: exp}
	return true, nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.strings, k)
		delete(s.hashes, k)
		delete(s.sets, k)
		delete(s.zsets, k)
	}
	return nil
}

func (s *Store) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	match := func(k string) {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	for k, e := range s.strings {
		if !s.expired(e) {
			match(k)
		}
	}
	for k := range s.hashes {
		match(k)
	}
	for k := range s.sets {
		match(k)
	}
	for k := range s.zsets {
		match(k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (s *Store) HGet(_ context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.hashes[key][field]; ok {
		return v, nil
	}
	return "", store.ErrNotFound
}

func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (s *Store) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fields {
		delete(s.hashes[key], f)
	}
	if len(s.hashes[key]) == 0 {
		delete(s.hashes, key)
	}
	return nil
}

func (s *Store) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *Store) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		delete(s.sets[key], m)
	}
	if len(s.sets[key]) == 0 {
		delete(s.sets, key)
	}
	return nil
}

func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) SCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[key])), nil
}

func (s *Store) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zsets[key]
	if !ok {
		z = make(map[string]float64)
		s.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (s *Store) ZPopMin(_ context.Context, key string) (string, float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z := s.zsets[key]
	if len(z) == 0 {
		return "", 0, false, nil
	}
	var minMember string
	var minScore float64
	first := true
	for m, sc := range z {
		if first || sc < minScore || (sc == minScore && m < minMember) {
			minMember, minScore = m, sc
			first = false
		}
	}
	delete(z, minMember)
	if len(z) == 0 {
		delete(s.zsets, key)
	}
	return minMember, minScore, true, nil
}

func (s *Store) ZRangeByScore(_ context.Context, key string, min, max float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type pair struct {
		member string
		score  float64
	}
	var pairs []pair
	for m, sc := range s.zsets[key] {
		if sc >= min && sc <= max {
			pairs = append(pairs, pair{m, sc})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score < pairs[j].score
		}
		return pairs[i].member < pairs[j].member
	})
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.member
	}
	return out, nil
}

func (s *Store) ZRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		delete(s.zsets[key], m)
	}
	if len(s.zsets[key]) == 0 {
		delete(s.zsets, key)
	}
	return nil
}

func (s *Store) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zsets[key])), nil
}

func (s *Store) Publish(_ context.Context, channel, payload string) error {
	s.mu.Lock()
	subs := append([]*subscription(nil), s.subs[channel]...)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.deliver(store.Message{Channel: channel, Payload: payload})
	}
	return nil
}

func (s *Store) Subscribe(_ context.Context, channels ...string) (store.Subscription, error) {
	sub := &subscription{
		store:    s,
		channels: channels,
		out:      make(chan store.Message, 64),
	}
	s.mu.Lock()
	for _, ch := range channels {
		s.subs[ch] = append(s.subs[ch], sub)
	}
	s.mu.Unlock()
	return sub, nil
}

func (s *Store) Close() error {
	return nil
}

type subscription struct {
	store    *Store
	channels []string
	out      chan store.Message
	mu       sync.Mutex
	closed   bool
}

func (sub *subscription) deliver(msg store.Message) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.out <- msg:
	default:
	}
}

func (sub *subscription) Messages() <-chan store.Message {
	return sub.out
}

func (sub *subscription) Close() error {
	sub.store.mu.Lock()
	for _, ch := range sub.channels {
		list := sub.store.subs[ch]
		for i, cand := range list {
			if cand == sub {
				sub.store.subs[ch] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	sub.store.mu.Unlock()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.out)
	}
	return nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
