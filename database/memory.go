package database

import (
	"sync"

	"github.com/gridwatt/smart-meter-server/models"
)

// MemoryStore keeps all clients in process memory. A read lock on the outer
// map plus a per-client mutex gives single-client linearizability without
// serializing access across different clients.
type MemoryStore struct {
	mu      sync.RWMutex
	clients map[string]*clientRecord
}

type clientRecord struct {
	mu     sync.Mutex
	client models.Client
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clients: make(map[string]*clientRecord)}
}

func (s *MemoryStore) AddClient(clientID string, client models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; ok {
		return ErrDataConflict
	}
	s.clients[clientID] = &clientRecord{client: client}
	return nil
}

func (s *MemoryStore) RemoveClient(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; !ok {
		return ErrClientNotFound
	}
	delete(s.clients, clientID)
	return nil
}

func (s *MemoryStore) record(clientID string) (*clientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return rec, nil
}

func (s *MemoryStore) AddReading(clientID string, reading models.Reading) error {
	rec, err := s.record(clientID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.client.Readings = append(rec.client.Readings, reading)
	return nil
}

func (s *MemoryStore) AddBill(clientID string, bill models.Bill) error {
	rec, err := s.record(clientID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.client.Bills = append(rec.client.Bills, bill)
	return nil
}

func (s *MemoryStore) UpdateLastBill(clientID string, bill models.Bill) error {
	rec, err := s.record(clientID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.client.Bills) == 0 {
		return ErrBillNotFound
	}
	rec.client.Bills[len(rec.client.Bills)-1] = bill
	return nil
}

func (s *MemoryStore) LastBill(clientID string) (*models.Bill, error) {
	rec, err := s.record(clientID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.client.Bills) == 0 {
		return nil, nil
	}
	bill := rec.client.Bills[len(rec.client.Bills)-1]
	return &bill, nil
}

func (s *MemoryStore) LastReading(clientID string) (*models.Reading, error) {
	rec, err := s.record(clientID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.client.Readings) == 0 {
		return nil, nil
	}
	reading := rec.client.Readings[len(rec.client.Readings)-1]
	return &reading, nil
}

func (s *MemoryStore) ClientExists(clientID string) (string, error) {
	s.mu.RLock()
	rec, ok := s.clients[clientID]
	s.mu.RUnlock()
	if !ok {
		return "", nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.client.TokenHash, nil
}

// BillCount reports how many bills a client has accrued. Test helper; not
// part of the Store interface or the session hot path.
func (s *MemoryStore) BillCount(clientID string) (int, error) {
	rec, err := s.record(clientID)
	if err != nil {
		return 0, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.client.Bills), nil
}
