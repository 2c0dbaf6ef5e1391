package providers

import (
	"github.com/cohesix/root/internal/bytesize"
	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/namespace"
)

type workerSlot struct {
	inUse     bool
	id        string
	lastBeat  []byte
	beatCount uint64
	ring      []byte
}

// Worker serves the /worker root (and, via ShardAlias, the canonical
// /shard/<label>/worker/<id>/... shape): one subdirectory per registered
// worker id, each holding a "heartbeat" append-only liveness file, a
// "status" read-only snapshot of the last heartbeat, and a "telemetry"
// append-only ring (spec.md §4.4's per-worker telemetry ring).
//
// Slots are a preallocated flat array sized at construction, not a map
// that grows per registration, matching spec.md's no-heap-growth-after-
// boot posture; registering past capacity returns Busy.
type Worker struct {
	slots   []workerSlot
	byID    map[string]int
	ringCap int
	refuse  bool // eviction_policy == "refuse": a full ring rejects the write instead of evicting
	onWrap  func(workerID string)
}

// WorkerOptions configures the telemetry ring every registered worker
// slot gets: size (telemetry.ring_bytes_per_worker) and overflow policy
// (telemetry_ingest.eviction_policy). onWrap, if non-nil, is called each
// time a ring evicts bytes to make room — the caller uses it to append
// the "telemetry ring wrap" audit line spec.md §4.4 requires.
type WorkerOptions struct {
	RingBytes      bytesize.ByteSize
	EvictionPolicy string
	OnRingWrap     func(workerID string)
}

// NewWorker builds a Worker provider with room for capacity workers.
func NewWorker(capacity int) *Worker {
	return NewWorkerWithOptions(capacity, WorkerOptions{})
}

// NewWorkerWithOptions builds a Worker provider with an explicit
// telemetry ring configuration.
func NewWorkerWithOptions(capacity int, opts WorkerOptions) *Worker {
	return &Worker{
		slots:   make([]workerSlot, capacity),
		byID:    make(map[string]int, capacity),
		ringCap: int(opts.RingBytes),
		refuse:  opts.EvictionPolicy == "refuse",
		onWrap:  opts.OnRingWrap,
	}
}

// Register reserves a slot for workerID, called by internal/dispatcher on
// spawn. Re-registering an already-known id is a no-op.
func (w *Worker) Register(workerID string) error {
	if _, ok := w.byID[workerID]; ok {
		return nil
	}
	for i := range w.slots {
		if !w.slots[i].inUse {
			w.slots[i] = workerSlot{inUse: true, id: workerID}
			w.byID[workerID] = i
			return nil
		}
	}
	return cerr.New(cerr.Busy, "worker slot table is full")
}

// Unregister releases workerID's slot, called on kill/drain completion.
func (w *Worker) Unregister(workerID string) {
	i, ok := w.byID[workerID]
	if !ok {
		return
	}
	w.slots[i] = workerSlot{}
	delete(w.byID, workerID)
}

func (w *Worker) Prefix() string { return "/worker" }

func (w *Worker) Describe(path []string) (codec.QidMeta, error) {
	if len(path) == 0 {
		return namespace.QidFor(codec.KindDir, "/worker"), nil
	}
	if _, ok := w.byID[path[0]]; !ok {
		return codec.QidMeta{}, cerr.New(cerr.NotFound, "unknown worker")
	}
	if len(path) == 1 {
		return namespace.QidFor(codec.KindDir, "/worker/"+path[0]), nil
	}
	if len(path) != 2 {
		return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
	}
	switch path[1] {
	case "heartbeat":
		return namespace.QidFor(codec.KindRegAppendOnly, "/worker/"+path[0]+"/heartbeat"), nil
	case "status":
		return namespace.QidFor(codec.KindRegReadOnly, "/worker/"+path[0]+"/status"), nil
	case "telemetry":
		return namespace.QidFor(codec.KindRegAppendOnly, "/worker/"+path[0]+"/telemetry"), nil
	default:
		return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
	}
}

func (w *Worker) Open(path []string, mode codec.OpenMode) error {
	return nil
}

func (w *Worker) Read(path []string, offset uint64, count uint32) ([]byte, error) {
	if len(path) != 2 {
		return nil, cerr.New(cerr.Permission, "node is not readable")
	}
	i, ok := w.byID[path[0]]
	if !ok {
		return nil, cerr.New(cerr.NotFound, "unknown worker")
	}
	switch path[1] {
	case "status":
		return w.slots[i].lastBeat, nil
	default:
		return nil, cerr.New(cerr.Permission, "node is not readable")
	}
}

func (w *Worker) Write(path []string, offset uint64, data []byte) (uint32, error) {
	if len(path) != 2 {
		return 0, cerr.New(cerr.Permission, "node is not writable")
	}
	i, ok := w.byID[path[0]]
	if !ok {
		return 0, cerr.New(cerr.NotFound, "unknown worker")
	}
	switch path[1] {
	case "heartbeat":
		w.slots[i].lastBeat = append([]byte(nil), data...)
		w.slots[i].beatCount++
		return uint32(len(data)), nil
	case "telemetry":
		return w.appendRing(i, data)
	default:
		return 0, cerr.New(cerr.Permission, "node is not writable")
	}
}

// appendRing appends data to slot i's telemetry ring, applying the
// configured overflow policy when the ring would exceed ringCap: refuse
// rejects the write with Busy and leaves the ring unchanged, evict-oldest
// (the default when ringCap is 0, i.e. unbounded, is a no-op) drops the
// oldest bytes to make room and calls onWrap.
func (w *Worker) appendRing(i int, data []byte) (uint32, error) {
	slot := &w.slots[i]
	if w.ringCap > 0 && len(slot.ring)+len(data) > w.ringCap {
		if w.refuse {
			return 0, cerr.New(cerr.Busy, "telemetry ring is full")
		}
		slot.ring = append(slot.ring, data...)
		if over := len(slot.ring) - w.ringCap; over > 0 {
			slot.ring = slot.ring[over:]
		}
		if w.onWrap != nil {
			w.onWrap(slot.id)
		}
		return uint32(len(data)), nil
	}
	slot.ring = append(slot.ring, data...)
	return uint32(len(data)), nil
}

// BeatCount reports how many heartbeats workerID has sent, for lifecycle
// staleness checks.
func (w *Worker) BeatCount(workerID string) (uint64, bool) {
	i, ok := w.byID[workerID]
	if !ok {
		return 0, false
	}
	return w.slots[i].beatCount, true
}

// Telemetry reports workerID's current ring contents, for tests and for
// /shard's read-through (the ring itself has no read node over 9P today;
// spec.md's scenario 2 drives it via the console "tail" verb instead,
// which reads the ring directly through this accessor).
func (w *Worker) Telemetry(workerID string) ([]byte, bool) {
	i, ok := w.byID[workerID]
	if !ok {
		return nil, false
	}
	return w.slots[i].ring, true
}

// ShardAlias re-exposes a Worker's roster under /shard/<label>/worker/<id>/...
// — spec.md's canonical sharded path — by stripping the label segment
// (sharding is a routing concern only; this implementation keeps one
// flat worker roster regardless of shard_bits, so every label resolves
// to the same underlying Worker) and a literal "worker" segment, then
// delegating the remainder to the wrapped Worker unchanged.
type ShardAlias struct {
	worker *Worker
}

// NewShardAlias builds a /shard provider backed by worker.
func NewShardAlias(worker *Worker) *ShardAlias {
	return &ShardAlias{worker: worker}
}

func (s *ShardAlias) Prefix() string { return "/shard" }

func (s *ShardAlias) Describe(path []string) (codec.QidMeta, error) {
	if len(path) == 0 {
		return namespace.QidFor(codec.KindDir, "/shard"), nil
	}
	if len(path) == 1 {
		return namespace.QidFor(codec.KindDir, "/shard/"+path[0]), nil
	}
	rest, err := s.stripLabel(path)
	if err != nil {
		return codec.QidMeta{}, err
	}
	return s.worker.Describe(rest)
}

func (s *ShardAlias) Open(path []string, mode codec.OpenMode) error {
	rest, err := s.stripLabel(path)
	if err != nil {
		return err
	}
	return s.worker.Open(rest, mode)
}

func (s *ShardAlias) Read(path []string, offset uint64, count uint32) ([]byte, error) {
	rest, err := s.stripLabel(path)
	if err != nil {
		return nil, err
	}
	return s.worker.Read(rest, offset, count)
}

func (s *ShardAlias) Write(path []string, offset uint64, data []byte) (uint32, error) {
	rest, err := s.stripLabel(path)
	if err != nil {
		return 0, err
	}
	return s.worker.Write(rest, offset, data)
}

// stripLabel validates and removes the <label>/worker/ prefix from path,
// returning the [id, node] remainder Worker's own methods expect.
func (s *ShardAlias) stripLabel(path []string) ([]string, error) {
	if len(path) < 2 || path[1] != "worker" {
		return nil, cerr.New(cerr.NotFound, "no such node")
	}
	return path[2:], nil
}
