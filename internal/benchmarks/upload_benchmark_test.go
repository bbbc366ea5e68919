package benchmarks

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/fjmerc/mediavault/internal/fingerprint"
	"github.com/fjmerc/mediavault/internal/ingest"
	repoMock "github.com/fjmerc/mediavault/internal/repository/mock"
	"github.com/fjmerc/mediavault/internal/storage/filesystem"
	"github.com/fjmerc/mediavault/internal/upload"
)

// countingSink accepts assembled files without archiving them
type countingSink struct {
	files atomic.Int64
}

func (s *countingSink) Ingest(ctx context.Context, src ingest.Source) (ingest.Result, error) {
	s.files.Add(1)
	return ingest.Result{Success: true, Fingerprint: src.Fingerprint}, nil
}

func newAssembler(tb testing.TB, sink upload.Sink) *upload.Assembler {
	tb.Helper()

	chunks, err := filesystem.NewChunkStore(tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}
	hasher, err := fingerprint.New(fingerprint.ModeFull, 0)
	if err != nil {
		tb.Fatal(err)
	}
	a, err := upload.NewAssembler(upload.Config{
		Sessions: repoMock.NewUploadSessionRepository(),
		Chunks:   chunks,
		Sink:     sink,
		Hasher:   hasher,
	})
	if err != nil {
		tb.Fatal(err)
	}
	return a
}

// transfer sends content as chunks of chunkSize and finalizes the session
func transfer(ctx context.Context, a *upload.Assembler, content []byte, chunkSize int) error {
	sessionID := uuid.NewString()
	total := (len(content) + chunkSize - 1) / chunkSize

	for i := 0; i < total; i++ {
		end := min((i+1)*chunkSize, len(content))
		req := upload.ChunkRequest{
			SessionID:    sessionID,
			ChunkIndex:   i,
			TotalChunks:  total,
			Filename:     "VID_0001.MP4",
			DeclaredSize: int64(len(content)),
		}
		if _, err := a.SubmitChunk(ctx, req, bytes.NewReader(content[i*chunkSize:end])); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
	}

	_, err := a.Finalize(ctx, sessionID)
	return err
}

func benchmarkTransfer(b *testing.B, size, chunkSize int) {
	a := newAssembler(b, &countingSink{})
	content := randomBytes(b, size)
	ctx := context.Background()

	b.SetBytes(int64(size))
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := transfer(ctx, a, content, chunkSize); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkTransfer_1MB_64KBChunks benchmarks a small photo in many chunks
func BenchmarkTransfer_1MB_64KBChunks(b *testing.B) { benchmarkTransfer(b, 1<<20, 64<<10) }

// BenchmarkTransfer_16MB_1MBChunks benchmarks a clip in 1MB chunks
func BenchmarkTransfer_16MB_1MBChunks(b *testing.B) { benchmarkTransfer(b, 16<<20, 1<<20) }

// BenchmarkDuplicateChunk measures the retry path for an already stored chunk
func BenchmarkDuplicateChunk(b *testing.B) {
	a := newAssembler(b, &countingSink{})
	ctx := context.Background()
	chunk := randomBytes(b, 64<<10)

	req := upload.ChunkRequest{SessionID: uuid.NewString(), ChunkIndex: 0, TotalChunks: 2, Filename: "IMG_0001.JPG"}
	if _, err := a.SubmitChunk(ctx, req, bytes.NewReader(chunk)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := a.SubmitChunk(ctx, req, bytes.NewReader(chunk))
		if err != nil {
			b.Fatal(err)
		}
		if !res.Duplicate {
			b.Fatal("expected duplicate chunk")
		}
	}
}

// BenchmarkConcurrentTransfers runs independent sessions in parallel
func BenchmarkConcurrentTransfers(b *testing.B) {
	a := newAssembler(b, &countingSink{})
	content := randomBytes(b, 256<<10)
	ctx := context.Background()

	b.SetBytes(int64(len(content)))
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := transfer(ctx, a, content, 32<<10); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
