package matching

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"lostfound/events"
	"lostfound/report"
)

type rowKey struct {
	kind report.Kind
	id   string
}

type recordedEvent struct {
	kind      string
	reportID  string
	eventType events.Type
	topic     string
}

// memStore is an in-memory report table. Transactions are serialized by a
// single slot, which stands in for row locks held until commit.
type memStore struct {
	slot chan struct{}

	mu     sync.Mutex
	rows   map[rowKey]report.Report
	events []recordedEvent

	beginErr      error
	commitErr     error
	transitionErr map[rowKey]error
	commits       int
}

func newMemStore(reports ...report.Report) *memStore {
	s := &memStore{
		slot:          make(chan struct{}, 1),
		rows:          map[rowKey]report.Report{},
		transitionErr: map[rowKey]error{},
	}
	for _, r := range reports {
		s.rows[rowKey{r.Kind, r.ID}] = r
	}
	return s
}

func (s *memStore) get(kind report.Kind, id string) report.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[rowKey{kind, id}]
}

func (s *memStore) recorded() []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedEvent(nil), s.events...)
}

func (s *memStore) Begin(ctx context.Context) (pgx.Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memTx{store: s, staged: map[rowKey]report.Report{}}, nil
}

func (s *memStore) GetForUpdate(ctx context.Context, tx pgx.Tx, kind report.Kind, id string) (report.Report, error) {
	mtx := tx.(*memTx)
	if r, ok := mtx.staged[rowKey{kind, id}]; ok {
		return r, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[rowKey{kind, id}]
	if !ok {
		return report.Report{}, report.ErrNotFound
	}
	return r, nil
}

func (s *memStore) Transition(ctx context.Context, tx pgx.Tx, p report.TransitionParams) (report.Report, error) {
	key := rowKey{p.Kind, p.ID}
	if err := s.transitionErr[key]; err != nil {
		return report.Report{}, err
	}
	cur, err := s.GetForUpdate(ctx, tx, p.Kind, p.ID)
	if err != nil {
		return report.Report{}, report.ErrConflict
	}
	if cur.Status != p.FromStatus || !sameRef(cur.MatchedRef, p.ExpectRef) {
		return report.Report{}, report.ErrConflict
	}
	cur.Status = p.ToStatus
	cur.MatchedRef = p.MatchedRef
	tx.(*memTx).staged[key] = cur
	return cur, nil
}

func (s *memStore) Append(ctx context.Context, tx pgx.Tx, kind, id string, eventType events.Type, payload map[string]any) error {
	mtx := tx.(*memTx)
	mtx.events = append(mtx.events, recordedEvent{kind: kind, reportID: id, eventType: eventType})
	return nil
}

func (s *memStore) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	mtx := tx.(*memTx)
	mtx.events = append(mtx.events, recordedEvent{topic: topic})
	return nil
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type memTx struct {
	store  *memStore
	staged map[rowKey]report.Report
	events []recordedEvent
	done   bool
}

func (t *memTx) release() {
	if !t.done {
		t.done = true
		<-t.store.slot
	}
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	defer t.release()
	if t.store.commitErr != nil {
		return t.store.commitErr
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for k, r := range t.staged {
		t.store.rows[k] = r
	}
	t.store.events = append(t.store.events, t.events...)
	t.store.commits++
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.release()
	return nil
}

func (t *memTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("memTx does not support nested transactions")
}

func (t *memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("SET"), nil
}

func (t *memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (t *memTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (t *memTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (t *memTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (t *memTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (t *memTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (t *memTx) Conn() *pgx.Conn {
	return nil
}

// fakeReader answers candidate queries from a fixed slice and records the
// queries it saw.
type fakeReader struct {
	mu      sync.Mutex
	rows    []report.Scored
	textOK  func(report.Scored) bool
	err     error
	queries []report.CandidateQuery
	byID    map[string]report.Report
}

func (f *fakeReader) Get(ctx context.Context, kind report.Kind, id string) (report.Report, error) {
	r, ok := f.byID[id]
	if !ok || r.Kind != kind {
		return report.Report{}, report.ErrNotFound
	}
	return r, nil
}

func (f *fakeReader) Candidates(ctx context.Context, q report.CandidateQuery) ([]report.Scored, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []report.Scored
	for _, row := range f.rows {
		if q.RequireText && (f.textOK == nil || !f.textOK(row)) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}
