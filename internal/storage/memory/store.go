package memory

/*
Файл store.go: хранилище учета в памяти процесса.

Каждый бакет: отдельный журнал меток времени (deque) под собственным мьютексом,
поэтому "удалить устаревшее, посчитать, вставить" атомарно внутри бакета,
а разные бакеты работают параллельно. Общая map защищена RWMutex и берется
только на поиск/создание бакета.

Пустой бакет удаляется из map только sweeper-ом или сбросом; такой бакет помечается removed,
и Acquire, успевший взять на него указатель, перечитывает map.
*/

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
	"github.com/xela07ax/ratewarden/internal/domain"
	"github.com/xela07ax/ratewarden/internal/governor"
)

type bucketLog struct {
	mu      sync.Mutex
	entries deque.Deque[int64] // по возрастанию времени
	removed bool
}

// pruneBefore снимает с головы записи старше cutoff. Вызывается под mu.
func (l *bucketLog) pruneBefore(cutoff int64) int64 {
	var n int64
	for l.entries.Len() > 0 && l.entries.Front() < cutoff {
		l.entries.PopFront()
		n++
	}
	return n
}

func (l *bucketLog) countSince(since int64) int64 {
	var n int64
	for i := l.entries.Len() - 1; i >= 0; i-- {
		if l.entries.At(i) < since {
			break
		}
		n++
	}
	return n
}

// push сохраняет порядок, даже если часы вызывающего чуть отстали.
func (l *bucketLog) push(ts int64) {
	if l.entries.Len() == 0 || l.entries.Back() <= ts {
		l.entries.PushBack(ts)
		return
	}
	var tail []int64
	for l.entries.Len() > 0 && l.entries.Back() > ts {
		tail = append(tail, l.entries.PopBack())
	}
	l.entries.PushBack(ts)
	for i := len(tail) - 1; i >= 0; i-- {
		l.entries.PushBack(tail[i])
	}
}

type Store struct {
	mu      sync.RWMutex
	buckets map[domain.Bucket]*bucketLog
	closed  atomic.Bool
}

func New() *Store {
	return &Store{buckets: make(map[domain.Bucket]*bucketLog)}
}

var _ governor.Store = (*Store)(nil)

// lockBucket возвращает живой бакет под его мьютексом. create=false: nil, если бакета нет.
func (s *Store) lockBucket(b domain.Bucket, create bool) *bucketLog {
	for {
		s.mu.RLock()
		l, ok := s.buckets[b]
		s.mu.RUnlock()

		if !ok {
			if !create {
				return nil
			}
			s.mu.Lock()
			if l, ok = s.buckets[b]; !ok {
				l = &bucketLog{}
				s.buckets[b] = l
			}
			s.mu.Unlock()
		}

		l.mu.Lock()
		if !l.removed {
			return l
		}
		l.mu.Unlock()
	}
}

func (s *Store) CountSince(ctx context.Context, b domain.Bucket, sinceMillis int64) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	l := s.lockBucket(b, false)
	if l == nil {
		return 0, nil
	}
	defer l.mu.Unlock()
	return l.countSince(sinceMillis), nil
}

func (s *Store) Insert(ctx context.Context, b domain.Bucket, tsMillis int64) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	l := s.lockBucket(b, true)
	defer l.mu.Unlock()
	l.push(tsMillis)
	return nil
}

func (s *Store) DeleteBefore(ctx context.Context, b domain.Bucket, beforeMillis int64) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	l := s.lockBucket(b, false)
	if l == nil {
		return 0, nil
	}
	defer l.mu.Unlock()
	return l.pruneBefore(beforeMillis), nil
}

func (s *Store) Acquire(ctx context.Context, b domain.Bucket, nowMillis int64, limit domain.Limit) (domain.Usage, error) {
	if err := s.check(ctx); err != nil {
		return domain.Usage{}, err
	}
	l := s.lockBucket(b, true)
	defer l.mu.Unlock()

	l.pruneBefore(nowMillis - limit.WindowMillis())
	u := domain.Usage{Count: l.countSince(nowMillis - limit.WindowMillis())}
	if u.Count < limit.Requests {
		l.push(nowMillis)
		u.Admitted = true
	}
	if l.entries.Len() > 0 {
		u.OldestMillis = l.entries.Front()
	}
	return u, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, beforeMillis int64) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for b, l := range s.buckets {
		l.mu.Lock()
		deleted += l.pruneBefore(beforeMillis)
		if l.entries.Len() == 0 {
			l.removed = true
			delete(s.buckets, b)
		}
		l.mu.Unlock()
	}
	return deleted, nil
}

func (s *Store) DeleteIdentity(ctx context.Context, identity, endpointKey string) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for b, l := range s.buckets {
		if b.Identity != identity || (endpointKey != "" && b.EndpointKey != endpointKey) {
			continue
		}
		l.mu.Lock()
		deleted += int64(l.entries.Len())
		l.removed = true
		delete(s.buckets, b)
		l.mu.Unlock()
	}
	return deleted, nil
}

// Scan копирует записи под блокировками и отдает их в fn уже без блокировок.
func (s *Store) Scan(ctx context.Context, sinceMillis int64, fn func(domain.Entry) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	snapshot := make(map[domain.Bucket]*bucketLog, len(s.buckets))
	for b, l := range s.buckets {
		snapshot[b] = l
	}
	s.mu.RUnlock()

	for b, l := range snapshot {
		l.mu.Lock()
		var ts []int64
		for i := 0; i < l.entries.Len(); i++ {
			if v := l.entries.At(i); v >= sinceMillis {
				ts = append(ts, v)
			}
		}
		l.mu.Unlock()

		for _, v := range ts {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(domain.Entry{Bucket: b, TimestampMillis: v}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Buckets возвращает число живых бакетов.
func (s *Store) Buckets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.check(ctx)
}

func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return governor.ErrStoreClosed
	}
	return ctx.Err()
}
