// Package cas implements Cohesix's content-addressed chunk store for
// /updates/<epoch>/chunks/<sha>: a local BadgerDB-backed store with an
// xxhash fast-path duplicate check, optionally backed by a remote S3
// mirror that hydrates chunks missing locally.
//
// Grounded on dittofs's pkg/metadata/store/badger (BadgerDB as the local
// KV engine, thin CRUD wrappers with no embedded business logic) and
// pkg/blocks/store/s3 (the S3 client setup and ctx-scoped Put/Get shape),
// composed here into one store instead of two separate packages since
// Cohesix's CAS is a single local-with-remote-fallback tier, not a
// pluggable multi-backend abstraction.
package cas

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cespare/xxhash/v2"
	"github.com/cohesix/root/internal/bytesize"
	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/logger"
	badger "github.com/dgraph-io/badger/v4"
)

// Store is a local-first, optionally S3-mirrored content-addressed
// chunk store keyed by the chunk's sha256 hex digest.
type Store struct {
	db         *badger.DB
	mirror     *s3.Client
	bucket     string
	prefix     string
	chunkBytes bytesize.ByteSize
}

// Options configures Store's optional remote mirror.
type Options struct {
	DBPath        string
	MirrorEnabled bool
	Bucket        string
	Region        string
	Prefix        string
	// ChunkBytes is cas.store.chunk_bytes: every Put must carry exactly
	// this many bytes (spec.md's /updates/<epoch>/chunks/<sha> invariant).
	ChunkBytes bytesize.ByteSize
}

// Open opens (creating if needed) the local chunk store at opts.DBPath,
// wiring an S3 mirror client if opts.MirrorEnabled.
func Open(ctx context.Context, opts Options) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(opts.DBPath).WithLogger(nil))
	if err != nil {
		return nil, cerr.Wrap(cerr.Invalid, err)
	}
	s := &Store{db: db, bucket: opts.Bucket, prefix: opts.Prefix, chunkBytes: opts.ChunkBytes}
	if !opts.MirrorEnabled {
		return s, nil
	}
	var awsOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		db.Close()
		return nil, cerr.Wrap(cerr.Invalid, err)
	}
	s.mirror = s3.NewFromConfig(awsCfg)
	return s, nil
}

// Close releases the local database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// fastKeyFor returns the xxhash pre-check key for data: chunks are
// identified by sha256 for integrity, and Put always verifies that
// first; once the sha256 matches, a chunk whose content was already
// seen under this xxhash is not written again.
func fastKeyFor(data []byte) []byte {
	h := xxhash.Sum64(data)
	key := make([]byte, 9)
	key[0] = 'x'
	for i := 0; i < 8; i++ {
		key[1+i] = byte(h >> (8 * i))
	}
	return key
}

func chunkKey(sha string) []byte {
	return append([]byte("c:"), []byte(sha)...)
}

func quarantineKey(sha string) []byte {
	return append([]byte("q:"), []byte(sha)...)
}

// Put stores data under sha, skipping the write if an xxhash fast-check
// shows this exact content is already present under any sha.
//
// spec.md's /updates/<epoch>/chunks/<sha> invariant: a write must carry
// exactly cas.store.chunk_bytes, and a chunk whose sha256 doesn't match
// its claimed name is rejected and quarantined rather than admitted —
// the namespace write path (not this method) is responsible for
// reporting TooBig/Invalid back to the Secure9P client.
func (s *Store) Put(sha string, data []byte) error {
	if s.chunkBytes != 0 && bytesize.ByteSize(len(data)) != s.chunkBytes {
		return cerr.Newf(cerr.TooBig, "chunk write is %d bytes, want %d", len(data), s.chunkBytes)
	}
	if got := hex.EncodeToString(sha256Sum(data)); got != sha {
		if err := s.quarantine(sha, data); err != nil {
			logger.Warn("cas quarantine write failed", logger.ChunkHash(sha), logger.Err(err))
		}
		return cerr.Newf(cerr.Invalid, "chunk %s failed hash verification, quarantined", sha)
	}

	fastKey := fastKeyFor(data)
	var alreadyPresent bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(fastKey)
		if err == nil {
			alreadyPresent = true
			return nil
		}
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return cerr.Wrap(cerr.Invalid, err)
	}
	if alreadyPresent {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(chunkKey(sha), data); err != nil {
			return err
		}
		return txn.Set(fastKey, []byte(sha))
	})
}

// Get returns the chunk stored under sha, hydrating it from the S3
// mirror (and caching it locally) if it isn't present locally and a
// mirror is configured.
func (s *Store) Get(ctx context.Context, sha string) ([]byte, error) {
	data, err := s.getLocal(sha)
	if err == nil {
		return data, nil
	}
	if !cerr.Is(err, cerr.NotFound) || s.mirror == nil {
		return nil, err
	}
	data, err = s.getMirror(ctx, sha)
	if err != nil {
		return nil, err
	}
	logger.Info("cas chunk hydrated from mirror", logger.ChunkHash(sha))
	if putErr := s.Put(sha, data); putErr != nil {
		logger.Warn("cas local cache write after hydrate failed", logger.ChunkHash(sha), logger.Err(putErr))
	}
	return data, nil
}

func (s *Store) getLocal(sha string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(sha))
		if err == badger.ErrKeyNotFound {
			return cerr.New(cerr.NotFound, "chunk not found")
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		if _, ok := cerr.As(err); ok {
			return nil, err
		}
		return nil, cerr.Wrap(cerr.Invalid, err)
	}
	return data, nil
}

func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// quarantine stores a hash-mismatched write under a separate key space,
// keyed by its claimed sha, so it never satisfies a Get under that
// name. Quarantined data is not exposed through any namespace node.
func (s *Store) quarantine(sha string, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(quarantineKey(sha), data)
	})
}

func (s *Store) getMirror(ctx context.Context, sha string) ([]byte, error) {
	resp, err := s.mirror.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + sha),
	})
	if err != nil {
		return nil, cerr.Wrap(cerr.NotFound, fmt.Errorf("mirror get object: %w", err))
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, cerr.Wrap(cerr.Invalid, err)
	}
	return buf.Bytes(), nil
}
