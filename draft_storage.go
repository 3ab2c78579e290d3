package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DraftStorage is the resumability store: a string-keyed, string-valued
// cache namespaced per subject and logical entry (document type, face
// image, status record). It is best effort by contract — callers must
// degrade gracefully when it fails, never crash the flow.
//
// Should be safe to use concurrently. RetrieveEntry returns "" without an
// error for absent entries; RemoveEntry of an absent entry is a no-op.
type DraftStorage interface {
	StoreEntry(subjectID, entry, value string) error
	RetrieveEntry(subjectID, entry string) (string, error)
	RemoveEntry(subjectID, entry string) error
}

// ------------------------------------------------------------------------------

type InMemoryDraftStorage struct {
	entries map[string]string
	mutex   sync.Mutex
}

func NewInMemoryDraftStorage() *InMemoryDraftStorage {
	return &InMemoryDraftStorage{
		entries: make(map[string]string),
	}
}

func memoryKey(subjectID, entry string) string {
	return fmt.Sprintf("%s:%s", subjectID, entry)
}

func (s *InMemoryDraftStorage) StoreEntry(subjectID, entry, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries[memoryKey(subjectID, entry)] = value
	return nil
}

func (s *InMemoryDraftStorage) RetrieveEntry(subjectID, entry string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.entries[memoryKey(subjectID, entry)], nil
}

func (s *InMemoryDraftStorage) RemoveEntry(subjectID, entry string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.entries, memoryKey(subjectID, entry))
	return nil
}

// ------------------------------------------------------------------------------

type RedisDraftStorage struct {
	client    *goredis.Client
	namespace string
}

func NewRedisDraftStorage(client *goredis.Client, namespace string) *RedisDraftStorage {
	return &RedisDraftStorage{client: client, namespace: namespace}
}

func createKey(namespace, subjectID, entry string) string {
	return fmt.Sprintf("%s:kyc:%s:%s", namespace, subjectID, entry)
}

// Entries expire with the verification window so abandoned drafts do not
// accumulate.
const EntryTTL time.Duration = 7 * 24 * time.Hour

func (s *RedisDraftStorage) StoreEntry(subjectID, entry, value string) error {
	ctx := context.Background()
	return s.client.Set(ctx, createKey(s.namespace, subjectID, entry), value, EntryTTL).Err()
}

func (s *RedisDraftStorage) RetrieveEntry(subjectID, entry string) (string, error) {
	ctx := context.Background()
	value, err := s.client.Get(ctx, createKey(s.namespace, subjectID, entry)).Result()
	if err == goredis.Nil {
		return "", nil
	}
	return value, err
}

func (s *RedisDraftStorage) RemoveEntry(subjectID, entry string) error {
	ctx := context.Background()
	return s.client.Del(ctx, createKey(s.namespace, subjectID, entry)).Err()
}
