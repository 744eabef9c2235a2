package keystore

import "hybrid_chat/internal/model"

func (s *Store) Get(user string) (*model.KeyPair, bool) {
	kp, ok := s.lookup(user)
	if !ok {
		return nil, false
	}
	return kp.Clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
