package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xrootd-go/xrootd-core/pkg/xrootd/wire"
)

// attrStore backs the fattr sub-protocol (spec.md §4.12): extended
// attributes keyed by a file's 64-byte File.Key, namespaced under
// wire.FattrNamespacePrefix. No teacher or pack example implements anything
// resembling xattrs, so this has no grounding source beyond the wire-shape
// constants spec.md itself defines; see DESIGN.md.
type attrStore struct {
	mu   sync.Mutex
	byKey map[string]map[string][]byte
}

func newAttrStore() *attrStore {
	return &attrStore{byKey: make(map[string]map[string][]byte)}
}

var errAttrNameTooLong = fmt.Errorf("dispatch: attribute name exceeds %d bytes", wire.FattrMaxNameLen)
var errAttrValueTooLong = fmt.Errorf("dispatch: attribute value exceeds %d bytes", wire.FattrMaxValueLen)
var errAttrBadNamespace = fmt.Errorf("dispatch: attribute name must start with %q", wire.FattrNamespacePrefix)
var errAttrNotFound = fmt.Errorf("dispatch: attribute not found")

func validateAttrName(name string) error {
	if len(name) > wire.FattrMaxNameLen {
		return errAttrNameTooLong
	}
	if !strings.HasPrefix(name, wire.FattrNamespacePrefix) {
		return errAttrBadNamespace
	}
	return nil
}

func (s *attrStore) get(key, name string) ([]byte, error) {
	if err := validateAttrName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byKey[key][name]
	if !ok {
		return nil, errAttrNotFound
	}
	return v, nil
}

func (s *attrStore) set(key, name string, value []byte) error {
	if err := validateAttrName(name); err != nil {
		return err
	}
	if len(value) > wire.FattrMaxValueLen {
		return errAttrValueTooLong
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byKey[key]
	if !ok {
		m = make(map[string][]byte)
		s.byKey[key] = m
	}
	m[name] = append([]byte(nil), value...)
	return nil
}

func (s *attrStore) del(key, name string) error {
	if err := validateAttrName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byKey[key]
	if !ok {
		return errAttrNotFound
	}
	if _, ok := m[name]; !ok {
		return errAttrNotFound
	}
	delete(m, name)
	if len(m) == 0 {
		delete(s.byKey, key)
	}
	return nil
}

// list returns every attribute name set on key, in no particular order
// (spec.md §6.1: a list reply carries names only, bound by the same
// per-name length limit as get).
func (s *attrStore) list(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.byKey[key]
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}
